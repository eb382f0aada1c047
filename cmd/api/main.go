package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"speedchat/internal/config"
	"speedchat/internal/db"
	"speedchat/internal/httpapi"
	"speedchat/internal/logging"
	"speedchat/internal/streamhub"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Fatal().Err(err).Msg("load .env file")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	log.Logger = logging.New(cfg, os.Stderr)
	zerolog.DefaultContextLogger = &log.Logger

	database, err := db.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer database.Close()

	hub := streamhub.NewHub(cfg.StreamRetention)
	handler := httpapi.NewHandler(cfg, database, hub, log.Logger)

	srv := &http.Server{
		Addr:        cfg.ListenAddress(),
		Handler:     httpapi.NewRouter(handler),
		ReadTimeout: 15 * time.Second,
		// Streams stay open for a whole turn.
		WriteTimeout: cfg.ChatTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddress()).Bool("web_search", cfg.WebSearchEnabled()).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}

	// Detached turns still need the database to persist their replies.
	handler.Wait()
	hub.Close()
	log.Info().Msg("api stopped")
}
