package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"imgapi/internal/model"
	"imgapi/internal/service"
	serviceMocks "imgapi/internal/service/mocks"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	part.Write([]byte(content))
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestHealthCheck(t *testing.T) {
	t.Run("postgres backend", func(t *testing.T) {
		db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		app := fiber.New()
		app.Get("/health", HealthCheck(db))

		t.Run("healthy", func(t *testing.T) {
			dbMock.ExpectPing().WillReturnError(nil)

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			resp, _ := app.Test(req)

			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var body map[string]string
			json.NewDecoder(resp.Body).Decode(&body)
			assert.Equal(t, "healthy", body["status"])
		})

		t.Run("unhealthy", func(t *testing.T) {
			dbMock.ExpectPing().WillReturnError(errors.New("db error"))

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			resp, _ := app.Test(req)

			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

			env := decodeEnvelope(t, resp.Body)
			assert.Equal(t, "SERVICE_UNAVAILABLE", env["code"])
		})
	})

	t.Run("memory backend has no db to ping", func(t *testing.T) {
		app := fiber.New()
		app.Get("/health", HealthCheck(nil))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListImages(t *testing.T) {
	mockSvc := new(serviceMocks.MockImageService)
	app := fiber.New()
	app.Get("/images", ListImages(mockSvc))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return([]model.Image{
			{ID: 2, Filename: "images/2000-b.png"},
			{ID: 1, Filename: "images/1000-a.png"},
		}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/images", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, true, env["success"])
		assert.Len(t, env["data"], 2)
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return(nil, errors.New("boom")).Once()

		req := httptest.NewRequest(http.MethodGet, "/images", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, false, env["success"])
		assert.Equal(t, "Failed to get images", env["error"])
		mockSvc.AssertExpectations(t)
	})
}

func TestGetImage(t *testing.T) {
	mockSvc := new(serviceMocks.MockImageService)
	app := fiber.New()
	app.Get("/images/:id", GetImage(mockSvc))

	t.Run("success", func(t *testing.T) {
		expected := &model.Image{ID: 7, Filename: "images/1000-cat.png", ContentType: "image/png"}
		mockSvc.On("Get", mock.Anything, int64(7)).Return(expected, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/images/7", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, true, env["success"])
		data := env["data"].(map[string]any)
		assert.Equal(t, float64(7), data["id"])
		assert.Equal(t, "image/png", data["contentType"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("non-numeric id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/images/abc", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "INVALID_ID", env["code"])
		assert.Equal(t, "Invalid image ID", env["error"])
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, int64(99)).Return(nil, service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/images/99", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "Image not found", env["error"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("Get", mock.Anything, int64(8)).Return(nil, errors.New("boom")).Once()

		req := httptest.NewRequest(http.MethodGet, "/images/8", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestUploadImage(t *testing.T) {
	mockSvc := new(serviceMocks.MockImageService)
	app := fiber.New()
	app.Post("/upload", UploadImage(mockSvc))

	t.Run("success", func(t *testing.T) {
		body, contentType := multipartBody(t, "cat.png", "not really a png")

		expected := &model.Image{ID: 1, Filename: "images/1700000000000-cat.png", ContentType: "image/png", Size: 15}
		mockSvc.On("Upload", mock.Anything, mock.Anything, "cat.png", mock.Anything, mock.Anything).
			Return(expected, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, true, env["success"])
		data := env["data"].(map[string]any)
		assert.Equal(t, float64(1), data["id"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("no file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "FILE_REQUIRED", env["code"])
		assert.Equal(t, "No file uploaded", env["error"])
	})

	t.Run("invalid type", func(t *testing.T) {
		body, contentType := multipartBody(t, "notes.txt", "plain text")

		mockSvc.On("Upload", mock.Anything, mock.Anything, "notes.txt", mock.Anything, mock.Anything).
			Return(nil, service.ErrInvalidType).Once()

		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "Invalid file type", env["error"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("too large", func(t *testing.T) {
		body, contentType := multipartBody(t, "big.png", "x")

		mockSvc.On("Upload", mock.Anything, mock.Anything, "big.png", mock.Anything, mock.Anything).
			Return(nil, &service.FileTooLargeError{Size: 6 * 1024 * 1024, Limit: 5 * 1024 * 1024}).Once()

		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Contains(t, env["error"], "6.0MB")
		assert.Contains(t, env["error"], "5.0MB")
		mockSvc.AssertExpectations(t)
	})

	t.Run("storage failure", func(t *testing.T) {
		body, contentType := multipartBody(t, "cat.png", "bytes")

		mockSvc.On("Upload", mock.Anything, mock.Anything, "cat.png", mock.Anything, mock.Anything).
			Return(nil, errors.New("upload to storage: boom")).Once()

		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "Failed to upload file", env["error"])
		mockSvc.AssertExpectations(t)
	})
}

func TestDeleteImage(t *testing.T) {
	mockSvc := new(serviceMocks.MockImageService)
	app := fiber.New()
	app.Delete("/images/:id", DeleteImage(mockSvc))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, int64(5)).Return(nil).Once()

		req := httptest.NewRequest(http.MethodDelete, "/images/5", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, true, env["success"])
		data := env["data"].(map[string]any)
		assert.Equal(t, float64(5), data["id"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, int64(99)).Return(service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodDelete, "/images/99", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("non-numeric id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/images/abc", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, int64(6)).Return(errors.New("boom")).Once()

		req := httptest.NewRequest(http.MethodDelete, "/images/6", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestServeFile(t *testing.T) {
	mockSvc := new(serviceMocks.MockImageService)
	app := fiber.New()
	app.Get("/storage/*", ServeFile(mockSvc))

	t.Run("success", func(t *testing.T) {
		mockSvc.On("FetchFile", mock.Anything, "images/1000-cat.png").
			Return(io.NopCloser(strings.NewReader("png bytes")), "image/png", nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/storage/images/1000-cat.png", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		assert.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))

		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "png bytes", string(got))
		mockSvc.AssertExpectations(t)
	})

	t.Run("missing blob", func(t *testing.T) {
		mockSvc.On("FetchFile", mock.Anything, "images/missing.png").
			Return(nil, "", service.ErrFileMissing).Once()

		req := httptest.NewRequest(http.MethodGet, "/storage/images/missing.png", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "File not found", env["error"])
		mockSvc.AssertExpectations(t)
	})
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})

	mockSvc := new(serviceMocks.MockImageService)
	RegisterRoutes(app, nil, mockSvc, "secret")

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "NOT_FOUND", env["code"])
	})

	t.Run("method not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "METHOD_NOT_ALLOWED", env["code"])
	})

	t.Run("reads bypass the gate", func(t *testing.T) {
		mockSvc.On("List", mock.Anything).Return([]model.Image{}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/images", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("upload requires a key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "API key is required", env["error"])
	})

	t.Run("upload rejects a wrong key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		req.Header.Set("x-api-key", "wrong")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		env := decodeEnvelope(t, resp.Body)
		assert.Equal(t, "Invalid API key", env["error"])
	})

	t.Run("delete is gated too", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/images/1", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("delete with the right key reaches the handler", func(t *testing.T) {
		mockSvc.On("Delete", mock.Anything, int64(1)).Return(nil).Once()

		req := httptest.NewRequest(http.MethodDelete, "/images/1", nil)
		req.Header.Set("x-api-key", "secret")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}
