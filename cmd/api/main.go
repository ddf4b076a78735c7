package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zhouzirui/accent-coach/backend/internal/config"
	"github.com/zhouzirui/accent-coach/backend/internal/handler"
	coachHandler "github.com/zhouzirui/accent-coach/backend/internal/handler/coach"
	"github.com/zhouzirui/accent-coach/backend/internal/metrics"
	"github.com/zhouzirui/accent-coach/backend/internal/service/coach"
	"github.com/zhouzirui/accent-coach/backend/internal/service/lesson"
	"github.com/zhouzirui/accent-coach/backend/internal/service/live"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	lessons, err := lesson.Load(cfg.Lesson.File)
	if err != nil {
		log.Fatalf("failed to load lesson content: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if !cfg.Coach.Enabled() {
		log.Println("GEMINI_API_KEY 未配置，用户需要在前端填写自己的密钥")
	}

	dialOptions := live.DefaultDialOptions()
	dialOptions.HandshakeTimeout = cfg.Coach.Timeout
	liveClient := live.NewClient(cfg.Coach.LiveURL, cfg.Coach.APIKey, dialOptions)

	phrases := live.NewPhraseSynthesizer(live.PhraseConfig{
		BaseURL: cfg.Phrase.BaseURL,
		APIKey:  cfg.Phrase.APIKey,
		Model:   cfg.Phrase.Model,
		Voice:   cfg.Phrase.Voice,
		Timeout: cfg.Phrase.Timeout,
	})

	sessions := coachHandler.NewRegistry()
	defer sessions.CloseAll()

	router := handler.NewRouter(handler.Dependencies{
		Lessons: lessons,
		CoachConfig: coach.Config{
			Model:             cfg.Coach.Model,
			Voice:             cfg.Coach.Voice,
			SystemInstruction: cfg.Coach.SystemInstruction,
			InputRate:         cfg.Coach.InputRate,
			OutputRate:        cfg.Coach.OutputRate,
			FrameSamples:      cfg.Coach.FrameSamples,
			SendQueue:         cfg.Coach.SendQueue,
		},
		Dialer:         coach.LiveDialer(liveClient),
		Sessions:       sessions,
		Phrases:        phrases,
		Metrics:        m,
		Gatherer:       reg,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Accent coach backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
