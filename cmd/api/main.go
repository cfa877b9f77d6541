package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldreport.org/internal/audit"
	"fieldreport.org/internal/auth"
	"fieldreport.org/internal/cache"
	"fieldreport.org/internal/config"
	"fieldreport.org/internal/crm"
	"fieldreport.org/internal/httpapi"
	"fieldreport.org/internal/mail"
	"fieldreport.org/internal/maintenance"
	"fieldreport.org/internal/obs"
	"fieldreport.org/internal/pricing"
	"fieldreport.org/internal/ratelimit"
	"fieldreport.org/internal/report"
	"fieldreport.org/internal/sheet"
	"fieldreport.org/internal/sysconfig"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// One limiter paces every outbound provider call.
	limiter := ratelimit.New(
		ratelimit.WithBounds(cfg.LimiterFloor, cfg.LimiterCeiling),
		ratelimit.WithThreshold(cfg.LimiterThreshold),
	)
	svc := sheet.NewClient(cfg.ProviderBaseURL, cfg.ProviderToken, sheet.WithPacer(limiter))

	snapshots := cache.New(cfg.CacheDir, cfg.FreshnessWindow)
	reports := report.NewStore(svc, cfg.ReportDoc, limiter,
		report.WithPolicy(ratelimit.Policy{Attempts: cfg.RetryAttempts}),
		report.WithInvalidator(httpapi.StoreInvalidator(snapshots)),
	)

	trail := audit.NewTrail(svc, cfg.PriceDoc)
	signer, err := auth.NewTokenSigner(cfg.AuthSecret)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	sender := mail.New(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPUser,
	})
	authSvc := auth.NewService(
		auth.NewUserStore(svc, cfg.PriceDoc),
		auth.NewSessionStore(svc, cfg.PriceDoc, cfg.RememberTTL),
		auth.NewAttemptTracker(cfg.LockoutThreshold, cfg.LockoutWindow),
		signer,
		sender,
		cfg.AccessTTL,
		cfg.LockoutThreshold,
		cfg.LockoutWindow,
		auth.WithRecorder(trail),
	)

	scheduler := maintenance.NewScheduler(svc, trail,
		cfg.ReportDoc, cfg.CRMDoc, cfg.BackupFolderID, cfg.RetentionDays)

	api := httpapi.New(httpapi.Deps{
		Auth:        authSvc,
		Signer:      signer,
		Reports:     reports,
		Snapshots:   snapshots,
		Prices:      pricing.NewService(svc, cfg.PriceDoc, snapshots),
		CRM:         crm.NewStore(svc, cfg.CRMDoc),
		Config:      sysconfig.NewStore(svc, cfg.PriceDoc),
		Maintenance: scheduler,
		Ready: func(ctx context.Context) error {
			_, err := svc.Open(ctx, cfg.ReportDoc)
			return err
		},
		Version: version,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// The maintenance gate is checked hourly; the scheduler dedupes.
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			runCtx, done := context.WithTimeout(rootCtx, 10*time.Minute)
			if ran, err := scheduler.RunIfDue(runCtx); err != nil {
				obs.LogEvent("error", "maintenance pass failed", map[string]any{"error": err.Error()})
			} else if ran {
				obs.LogEvent("info", "maintenance pass completed", nil)
			}
			done()
			select {
			case <-ticker.C:
			case <-rootCtx.Done():
				return
			}
		}
	}()

	log.Printf("Starting fieldreport-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
