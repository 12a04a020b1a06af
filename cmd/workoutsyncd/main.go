package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fitglue/workoutsync/pkg/bootstrap"
	"github.com/fitglue/workoutsync/pkg/reconcile"
	"github.com/fitglue/workoutsync/pkg/webhook"
)

func main() {
	reconcileEvery := flag.Duration("reconcile-every", 0, "Run the integration reconciler on this interval (0 disables)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := bootstrap.NewService(ctx, "workoutsyncd")
	if err != nil {
		log.Fatalf("failed to initialize service: %v", err)
	}
	defer svc.Close()

	server := &http.Server{
		Addr:         ":" + svc.Config.Port,
		Handler:      newRouter(svc),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * svc.Config.VendorTimeout,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	if *reconcileEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reconcileLoop(ctx, svc, *reconcileEvery)
		}()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		svc.Logger.Info("workoutsyncd listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		svc.Logger.Error("graceful shutdown failed", "error", err)
	}
	wg.Wait()
}

func newRouter(svc *bootstrap.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/webhooks/strava", webhook.NewHandler(webhook.Config{
		Strava:      svc.Strava,
		Publisher:   svc.Pub,
		VerifyToken: svc.Config.StravaVerifyToken,
		Logger:      svc.Logger,
	}))
	return r
}

// reconcileLoop runs every registered adapter's reconciler on each tick until ctx ends.
func reconcileLoop(ctx context.Context, svc *bootstrap.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, a := range svc.Registry.All() {
			report, err := reconcile.New(a, svc.Credentials, reconcile.Options{Logger: svc.Logger}).Run(ctx)
			if err != nil {
				svc.Logger.Error("Reconciliation failed", "provider", a.ProviderID(), "error", err)
				continue
			}
			svc.Logger.Info("Reconciliation report",
				"provider", report.Provider, "checked", report.Checked, "errors", len(report.Errors))
		}
	}
}
