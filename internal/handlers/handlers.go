package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"mediaforge/internal/broadcast"
	"mediaforge/internal/config"
	"mediaforge/internal/gate"
	"mediaforge/internal/images"
	"mediaforge/internal/models"
	"mediaforge/internal/pdfops"
	"mediaforge/internal/registry"
	"mediaforge/internal/retention"
	"mediaforge/internal/runner"
)

// Services carries the collaborators the transport layer wires together.
type Services struct {
	Conversions *registry.Registry[models.ConversionJob]
	Downloads   *registry.Registry[models.DownloadJob]
	Gate        *gate.Gate
	Hub         *broadcast.Hub
	FFmpeg      *runner.FFmpeg
	YtDlp       *runner.YtDlp
	Images      *images.Service
	PDFs        *pdfops.Service
	Tracker     *retention.Tracker
}

type App struct {
	logger *slog.Logger
	router *chi.Mux
	svc    Services

	uploadsDir     string
	outputsDir     string
	maxUploadBytes int64

	limiter  *rate.Limiter
	upgrader websocket.Upgrader
}

func NewApp(logger *slog.Logger, cfg config.Config, svc Services) *App {
	app := &App{
		logger:         logger,
		router:         chi.NewRouter(),
		svc:            svc,
		uploadsDir:     cfg.UploadsDir,
		outputsDir:     cfg.OutputsDir,
		maxUploadBytes: cfg.MaxUploadBytes,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	app.registerRoutes()
	return app
}

func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) registerRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(middleware.Recoverer)
	a.router.Use(a.corsMiddleware)

	a.router.Get("/healthz", a.health)
	a.router.Get("/ws", a.events)
	a.router.Get("/download/{id}", a.retrieveArtifact)

	a.router.Route("/api", func(r chi.Router) {
		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/{id}", a.getJob)
		r.Delete("/jobs/{id}", a.deleteJob)

		r.Group(func(r chi.Router) {
			r.Use(a.rateLimitMiddleware)
			r.Post("/convert", a.createConversion)
			r.Post("/download", a.createDownload)
			r.Post("/image/resize", a.createImageResize)
			r.Post("/image/convert", a.createImageConvert)
			r.Post("/image/remove-background", a.createImageRemoveBG)
			r.Post("/pdf/merge", a.createPDFMerge)
			r.Post("/pdf/split", a.createPDFSplit)
		})
	})
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// events upgrades the connection and registers it with the hub. Every job's
// events flow over every socket; the client filters by job id.
func (a *App) events(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	a.svc.Hub.Subscribe(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	a.svc.Hub.Unsubscribe(conn)
	_ = conn.Close()
}

func (a *App) listJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	var conversions []models.ConversionJob
	var downloads []models.DownloadJob
	if status != "" {
		conversions = a.svc.Conversions.ListByStatus(status)
		downloads = a.svc.Downloads.ListByStatus(status)
	} else {
		conversions = a.svc.Conversions.List()
		downloads = a.svc.Downloads.List()
	}
	a.respondJSON(w, http.StatusOK, map[string]any{
		"conversions": conversions,
		"downloads":   downloads,
	})
}

func (a *App) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := a.svc.Conversions.Get(id); ok {
		a.respondJSON(w, http.StatusOK, job)
		return
	}
	if job, ok := a.svc.Downloads.Get(id); ok {
		a.respondJSON(w, http.StatusOK, job)
		return
	}
	a.respondError(w, http.StatusNotFound, "job not found")
}

// deleteJob removes the record only. The artifact stays on disk for the
// retention sweeper; callers wanting immediate removal use the tracker.
func (a *App) deleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if a.svc.Conversions.Delete(id) || a.svc.Downloads.Delete(id) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.respondError(w, http.StatusNotFound, "job not found")
}

func (a *App) retrieveArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var outputPath, outputName string
	if job, ok := a.svc.Conversions.Get(id); ok {
		if job.Status != models.StatusCompleted {
			a.respondError(w, http.StatusConflict, "artifact is not ready")
			return
		}
		outputPath, outputName = job.OutputPath, job.OutputName
	} else if job, ok := a.svc.Downloads.Get(id); ok {
		if job.Status != models.StatusCompleted {
			a.respondError(w, http.StatusConflict, "artifact is not ready")
			return
		}
		outputPath, outputName = job.OutputPath, job.OutputName
	} else {
		a.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	if outputPath == "" {
		a.respondError(w, http.StatusConflict, "artifact is not ready")
		return
	}
	if _, err := os.Stat(outputPath); err != nil {
		a.respondError(w, http.StatusNotFound, "artifact no longer exists")
		return
	}

	a.svc.Tracker.MarkDownloaded(id)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+outputName+"\"")
	http.ServeFile(w, r, outputPath)
}

func (a *App) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode json", "error", err)
	}
}

func (a *App) respondError(w http.ResponseWriter, code int, msg string) {
	a.respondJSON(w, code, map[string]string{"error": msg})
}

func (a *App) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			a.respondError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// saveUpload persists one multipart file under the uploads dir, prefixed
// with the job id so concurrent uploads never collide.
func (a *App) saveUpload(jobID string, file multipart.File, header *multipart.FileHeader) (name, path string, err error) {
	if err := os.MkdirAll(a.uploadsDir, 0o755); err != nil {
		return "", "", fmt.Errorf("ensure uploads dir: %w", err)
	}
	safeName := sanitizeFileName(header.Filename)
	inputPath := filepath.Join(a.uploadsDir, jobID+"_"+safeName)

	out, err := os.Create(inputPath)
	if err != nil {
		return "", "", fmt.Errorf("create upload file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		return "", "", fmt.Errorf("persist upload: %w", err)
	}
	return safeName, inputPath, nil
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	// Base maps "" and path-only names to "." or "..", which the rune map
	// would let through.
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "upload.bin"
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
	if name == "" {
		return "upload.bin"
	}
	return name
}

func newID() string {
	return uuid.New().String()
}
