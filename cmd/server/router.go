package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/dispatch/internal/api"
	"github.com/phrazzld/dispatch/internal/api/shared"
	"github.com/phrazzld/dispatch/internal/config"
	"github.com/phrazzld/dispatch/internal/task"
)

// newServer builds the HTTP server with the task API mounted.
func newServer(cfg config.ServerConfig, queue *task.Queue, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		shared.RespondWithJSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})

	taskHandler := api.NewTaskHandler(queue, logger)
	r.Route("/api/v1", taskHandler.Routes)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
