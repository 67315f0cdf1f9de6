package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"imgapi/internal/http/middleware"
	"imgapi/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Read endpoints are public; upload and delete sit behind the API key gate.
func RegisterRoutes(app *fiber.App, db *sql.DB, imgSvc service.ImageService, apiKey string) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	app.Get("/images", ListImages(imgSvc))
	app.Get("/images/:id", GetImage(imgSvc))
	app.Get("/storage/*", ServeFile(imgSvc))

	gate := middleware.APIKey(apiKey)
	app.Post("/upload", gate, UploadImage(imgSvc))
	app.Delete("/images/:id", gate, DeleteImage(imgSvc))
}

// HealthCheck reports dependency health. With the in-memory metadata backend
// there is no database to ping and the process itself is the dependency.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a simple liveness check.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// ListImages returns all images in display order (newest first).
func ListImages(imgSvc service.ImageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		items, err := imgSvc.List(c.UserContext())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get images")
		}
		return writeData(c, fiber.StatusOK, items)
	}
}

// GetImage returns a single image record by numeric id.
func GetImage(imgSvc service.ImageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "Invalid image ID")
		}
		img, err := imgSvc.Get(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "Image not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get image")
		}
		return writeData(c, fiber.StatusOK, img)
	}
}

// UploadImage accepts a multipart upload (field name: file) and runs it through
// the upload pipeline. Validation failures surface before any write happens.
func UploadImage(imgSvc service.ImageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "No file uploaded")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		img, err := imgSvc.Upload(c.UserContext(), f, fh.Filename, ct, fh.Size)
		if err != nil {
			var tooLarge *service.FileTooLargeError
			switch {
			case errors.Is(err, service.ErrNoFile):
				return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "No file uploaded")
			case errors.Is(err, service.ErrInvalidType):
				return writeError(c, fiber.StatusBadRequest, "INVALID_TYPE", "Invalid file type")
			case errors.As(err, &tooLarge):
				return writeError(c, fiber.StatusRequestEntityTooLarge, "TOO_LARGE", tooLarge.Error())
			default:
				return writeError(c, fiber.StatusInternalServerError, "UPLOAD_FAILED", "Failed to upload file")
			}
		}
		return writeData(c, fiber.StatusOK, img)
	}
}

// DeleteImage removes an image's blob and record by numeric id.
func DeleteImage(imgSvc service.ImageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "Invalid image ID")
		}
		if err := imgSvc.Delete(c.UserContext(), id); err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "Image not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete image")
		}
		return writeData(c, fiber.StatusOK, fiber.Map{"id": id})
	}
}

// ServeFile streams raw blob bytes by storage key. Successful responses are
// immutable uploads, so they carry a one-year cache lifetime.
func ServeFile(imgSvc service.ImageService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params("*")
		if decoded, err := url.PathUnescape(key); err == nil {
			key = decoded
		}

		rc, contentType, err := imgSvc.FetchFile(c.UserContext(), key)
		if err != nil {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "File not found")
		}

		c.Set(fiber.HeaderContentType, contentType)
		c.Set(fiber.HeaderCacheControl, "public, max-age=31536000")
		return c.SendStream(rc)
	}
}
