package routes

import (
	"net/http"

	"facedetect/internal/config"
	"facedetect/internal/handler"
	"facedetect/internal/logger"
	"facedetect/internal/middleware"
	"facedetect/internal/repository"
	"facedetect/internal/service/websocket"
)

// SetupRoutes registers the preview page, the preview websocket, the history API and the
// log endpoints, and wraps the mux with the authentication middleware.
func SetupRoutes(cfg *config.Config, logger *logger.Logger, hub *websocket.HubService,
	runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.Handler {
	mux := http.NewServeMux()

	// Pages
	mux.HandleFunc("/login", handler.LoginPageHandler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		handler.IndexHandler()(w, r)
	})

	// API endpoints
	mux.HandleFunc("/api/preview", handler.PreviewWebsocketHandler(hub, logger))
	mux.HandleFunc("/api/runs", handler.GetRunsHandler(runRepo, logger))
	mux.HandleFunc("/api/runs/view", handler.GetRunHandler(runRepo, detectionRepo, logger))
	mux.HandleFunc("/api/runs/stats", handler.GetStatsHandler(runRepo, logger))
	mux.HandleFunc("/api/runs/delete", handler.DeleteRunHandler(runRepo, logger))

	// Log endpoints
	mux.HandleFunc("/logs", handler.ShowLogsHandler(cfg))
	mux.HandleFunc("/logs/clear", handler.ClearLogsHandler(logger))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	return middleware.AuthMiddleware(cfg.PreviewToken)(mux)
}
