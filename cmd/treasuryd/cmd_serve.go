package main

import (
	"context"
	"time"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/b0ase/bsv20-treasury/api"
	"github.com/b0ase/bsv20-treasury/logger"
)

const (
	shutdownTimeout  = 30 * time.Second
	reconcileTimeout = 2 * time.Minute
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled reconciliation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveHandler(cmd.Context(), opts)
		},
	}
}

func serveHandler(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error(err, zap.String("component", "ledger"))
		}
	}()
	a.checkTreasuryKey(ctx)

	scheduler, err := startReconciler(ctx, a)
	if err != nil {
		return err
	}
	if scheduler != nil {
		defer scheduler.Stop()
	}

	handler := api.NewHandler(api.Deps{
		Token: api.TokenConfig{
			Tick:        cfg.Token.Tick,
			ID:          cfg.Token.ID,
			TotalSupply: cfg.Token.TotalSupply,
			PriceSats:   cfg.Token.PriceSats,
		},
		Ledger:   a.ledger,
		Treasury: a.treasury,
		Tokens:   a.indexer,
		Transfer: a.transfer,
		Payments: paymentVerifier(a),
	})
	server := api.New(api.Config{
		Debug:        cfg.Debug,
		Addr:         cfg.Server.ListenAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth:         api.AuthConfig{APIKeys: cfg.Auth.APIKeys},
	}, handler)
	if len(cfg.Auth.APIKeys) == 0 {
		logger.Warn("no API keys configured; authenticated routes reject every request")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}
	logger.Info("treasuryd stopped")
	return nil
}

// paymentVerifier returns nil as an interface when verification is off.
func paymentVerifier(a *app) api.PaymentVerifier {
	if a.payments == nil {
		return nil
	}
	return a.payments
}

// startReconciler schedules reconciliation and runs it once immediately.
// It returns nil when reconciliation is disabled.
func startReconciler(ctx context.Context, a *app) (*cron.Cron, error) {
	if !a.cfg.Reconcile.Enabled {
		return nil, nil
	}

	run := func() {
		runCtx, cancel := context.WithTimeout(ctx, reconcileTimeout)
		defer cancel()
		report, err := a.treasury.Reconcile(runCtx)
		if err != nil {
			logger.ErrorCtx(runCtx, err, zap.String("job", "reconcile"))
			return
		}
		logger.Info("reconciliation finished",
			zap.Bool("in_sync", report.InSync),
			zap.Int("discrepancies", len(report.Discrepancies)),
		)
	}

	c := cron.New()
	if err := c.AddFunc(a.cfg.Reconcile.Schedule, run); err != nil {
		return nil, err
	}
	go run()
	c.Start()
	logger.Info("reconciliation scheduled", zap.String("schedule", a.cfg.Reconcile.Schedule))
	return c, nil
}
