package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-chat/config"
	"realtime-chat/handlers/api/conversations"
	"realtime-chat/handlers/api/messages"
	"realtime-chat/handlers/api/users"
	"realtime-chat/handlers/websocket"
	authMiddleware "realtime-chat/middleware"
	"realtime-chat/stores"
	"realtime-chat/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(cfg *config.Config, store stores.Store, relay *websocket.Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Welcome"))
	})
	r.Get("/api/presence", websocket.HandlePresence(relay.Registry()))

	if cfg.JWTSecret != "" {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT([]byte(cfg.JWTSecret)))
			r.Use(authMiddleware.SyncProfile(store))

			r.Post("/api/conversation", conversations.HandleCreate(store))
			r.Get("/api/conversations/{userId}", conversations.HandleList(store))
			r.Post("/api/message", messages.HandleCreate(store))
			r.Get("/api/message/{conversationId}", messages.HandleList(store))
			r.Get("/api/users/{userId}", users.HandleGet(store))
		})
	} else {
		logrus.Warn("JWT_SECRET not set, history API disabled")
	}

	if cfg.MetricsEnabled {
		r.Handle("/metrics", telemetry.Handler())
	}

	r.Handle("/socket.io/", relay.ServeHandler())
	return r
}

func waitForShutdown(server *http.Server, relay *websocket.Server, store stores.Store) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s).Info("Shutting down...")

	relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}

	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close storage")
		}
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := flag.String("loglevel", cfg.LogLevel, "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", cfg.ListenAddr, "Set the server listen address")
	flag.Parse()
	cfg.LogLevel = *logLevel
	cfg.ListenAddr = *listenAddr

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.MetricsEnabled {
		telemetry.Init()
	}

	store, err := stores.GetStore(context.Background(), cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialise storage")
	}

	relay := websocket.SetupSocketIO(cfg, store)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: setupRouter(cfg, store, relay),
	}

	logrus.WithField("addr", cfg.ListenAddr).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server, relay, store)
}
