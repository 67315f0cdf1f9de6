package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imgapi/internal/config"
	"imgapi/internal/database"
	"imgapi/internal/database/migration"
	handlers "imgapi/internal/http/handler"
	"imgapi/internal/http/middleware"
	"imgapi/internal/otel"
	"imgapi/internal/repository"
	"imgapi/internal/repository/memory"
	"imgapi/internal/repository/postgres"
	"imgapi/internal/service"
	"imgapi/internal/storage"
)

func main() {
	ctx := context.Background()

	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	// Initialize tracing before anything that creates spans
	shutdown, err := otel.Init(ctx, time.UTC)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	// Select the metadata repository backend. The in-memory repository is the
	// default; "postgres" switches to the database-backed one.
	var db *sql.DB
	var imgRepo repository.ImageRepository

	switch cfg.MetadataBackend {
	case "postgres":
		db, err = database.NewPostgres(cfg.Database)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := migration.EnsureMigrated(ctx, db, time.UTC, cfg.Database.Host); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}

		imgRepo = postgres.NewImagePostgres(db)
	default:
		imgRepo = memory.NewImageMemory()
	}

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	imgSvc := service.NewImageService(objStore, imgRepo, cfg.Upload)

	// Report blobs that have no metadata record. Uploads that fail between the
	// blob write and the metadata insert can leave these behind.
	if orphans, err := imgSvc.OrphanKeys(ctx); err != nil {
		logJSON("warn", "orphan_scan_failed", map[string]any{"error": err.Error()})
	} else if len(orphans) > 0 {
		logJSON("warn", "orphan_blobs_found", map[string]any{"count": len(orphans), "keys": orphans})
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    int(cfg.Upload.MaxFileSizeBytes) + 1024*1024, // headroom for multipart framing
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	// Prometheus metrics: per-route counters and latency histograms on a
	// dedicated registry, exposed at /metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}
	app.Use(promMW.Handler())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Register HTTP routes with injected service
	handlers.RegisterRoutes(app, db, imgSvc, cfg.APIKey)

	logJSON("info", "server_starting", map[string]any{
		"port":    cfg.Port,
		"backend": cfg.MetadataBackend,
	})

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func logJSON(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		entry[k] = v
	}
	if b, err := json.Marshal(entry); err == nil {
		log.SetFlags(0)
		log.Println(string(b))
	}
}
