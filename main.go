package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"sheetlog/internal"
	"sheetlog/webhook"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	// Credentials commonly live in a .env file next to the config; the
	// config file references them via ${VAR} expansion.
	_ = godotenv.Load()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	extractor := internal.NewExtractor(config.Extract.Keywords)

	exclude, err := internal.NewExclusionEngine(config.Exclude, internal.NewLogger("rules"))
	if err != nil {
		logger.Fatalf("compile exclusion rules: %v", err)
	}
	if !exclude.Empty() {
		logger.Printf("%d exclusion rule(s) active", len(config.Exclude))
	}

	sink, err := internal.NewSheetsSink(ctx, config.Sheets)
	if err != nil {
		logger.Fatalf("sheets sink: %v", err)
	}
	logger.Printf("sheets sink ready: spreadsheet=%s range=%s", config.Sheets.SpreadsheetID, config.Sheets.Range)

	var mirror internal.Mirror
	if config.Mirror.Enabled() {
		mirror, err = internal.NewMirror(config.Mirror)
		if err != nil {
			logger.Fatalf("mirror: %v", err)
		}
		defer mirror.Close()
		logger.Printf("record mirror enabled: drivers=%v topic=%s", config.Mirror.Drivers, config.Mirror.Topic)
	}

	slackHandler, err := webhook.NewSlackHandler(
		config.Slack.SigningSecret,
		exclude,
		extractor,
		sink,
		mirror,
		internal.NewLogger("slack"),
	)
	if err != nil {
		logger.Fatalf("slack handler: %v", err)
	}
	slackHandler.SetMaxBodyBytes(config.Server.MaxBodyBytes)

	mux := http.NewServeMux()
	mux.Handle(config.Slack.Path, slackHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Printf("slack webhook enabled on %s", config.Slack.Path)

	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	root := internal.NewRateLimitHandler(mux, config.Server.RateLimitRPS, config.Server.RateLimitBurst, time.Hour)

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
