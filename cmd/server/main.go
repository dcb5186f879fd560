package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/NickCoder1309/nexMeet-chat/internal/backend"
	"github.com/NickCoder1309/nexMeet-chat/internal/config"
	"github.com/NickCoder1309/nexMeet-chat/internal/handler"
	"github.com/NickCoder1309/nexMeet-chat/internal/metrics"
	"github.com/NickCoder1309/nexMeet-chat/internal/middleware"
	"github.com/NickCoder1309/nexMeet-chat/internal/registry"
	"github.com/NickCoder1309/nexMeet-chat/internal/session"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	slog.SetDefault(config.NewLogger(cfg.Env))

	handler.SetAllowedOrigins(cfg.AllowedOrigins)

	var verifier *session.Verifier
	if cfg.AuthSecret != "" {
		verifier = session.NewVerifier(cfg.AuthSecret)
	}
	middleware.SetAuthVerifier(verifier)

	var meetingService *backend.Client
	if cfg.BackendBaseURL != "" {
		meetingService = backend.NewClient(cfg.BackendBaseURL)
		slog.Info("Meeting service configured", "base_url", cfg.BackendBaseURL)
	} else {
		slog.Info("No meeting service configured, registry is the roster of record")
	}

	rooms := registry.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHandler := handler.NewWSHandler(rooms, meetingService, verifier, cfg.MeetCapacity)
	presenceHandler := &handler.PresenceHandler{Registry: rooms, Backend: meetingService}

	rateLimiter := middleware.NewRateLimiter(ctx, 60, time.Minute)
	if cfg.TrustedProxies != "" {
		rateLimiter.SetTrustedProxies(strings.Split(cfg.TrustedProxies, ","))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "healthy",
			"rooms":  rooms.Rooms(),
		})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ws", rateLimiter.Middleware(http.HandlerFunc(wsHandler.HandleWebSocket)).ServeHTTP)
	mux.HandleFunc("GET /api/meets/{id}/online", rateLimiter.Middleware(middleware.RequireAuth(presenceHandler.MeetingOnline)).ServeHTTP)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     corsHandler.Handler(loggingMiddleware(mux)),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("nexMeet signaling relay starting", "port", cfg.Port, "capacity", cfg.MeetCapacity)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}
