package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/olegmukhin/thoughtgate/internal/adapter/inbound/http"
	"github.com/olegmukhin/thoughtgate/internal/adapter/outbound/cel"
	"github.com/olegmukhin/thoughtgate/internal/adapter/outbound/reviewer"
	"github.com/olegmukhin/thoughtgate/internal/adapter/outbound/upstream"
	"github.com/olegmukhin/thoughtgate/internal/config"
	"github.com/olegmukhin/thoughtgate/internal/domain/approval"
	"github.com/olegmukhin/thoughtgate/internal/domain/policy"
	"github.com/olegmukhin/thoughtgate/internal/service"
	"github.com/olegmukhin/thoughtgate/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	providers, err := telemetry.Setup(ctx, "thoughtgate", os.Stdout)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer providers.Shutdown(context.Background())

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("building condition environment: %w", err)
	}

	bundle, err := cel.Load(cfg.Policy.File, cfg.Policy.Blob)
	if err != nil {
		return fmt.Errorf("loading policy bundle: %w", err)
	}
	if bundle.Source == policy.SourceEmbedded {
		logger.Warn("no POLICY_FILE or POLICIES configured; running on the embedded permissive default")
	}

	engine, err := cel.NewEngine(evaluator, bundle, time.Duration(cfg.Approval.TimeoutSecs)*time.Second)
	if err != nil {
		return fmt.Errorf("building policy engine: %w", err)
	}

	reg := httpadapter.NewRegistry()
	metrics := httpadapter.NewMetrics(reg)

	reloader := cel.NewReloader(engine, cfg.Policy.File, time.Duration(cfg.Policy.ReloadIntervalSecs)*time.Second, logger)
	reloader.OnFailure = func(category policy.ErrorCategory) {
		metrics.ReloadFailuresTotal.WithLabelValues(string(category)).Inc()
	}

	reviewerChannel := reviewer.New(reviewer.Config{
		BotToken:        reviewer.NewSecret(cfg.Slack.BotToken),
		Channel:         cfg.Slack.Channel,
		ApproveReaction: cfg.Slack.ApproveReaction,
		RejectReaction:  cfg.Slack.RejectReaction,
	}, nil)

	coordinator := service.NewApprovalCoordinator(reviewerChannel, 1, cfg.Slack.ApproveReaction, cfg.Slack.RejectReaction, time.Duration(cfg.Approval.PollMaxIntervalSecs)*time.Second, logger)
	orchestrator := service.NewOrchestrator(engine, coordinator, cfg.Upstream, cfg.Slack.Channel, logger)
	orchestrator.OnPolicyEvaluation = func(verdict policy.VerdictKind) {
		metrics.PolicyEvaluations.WithLabelValues(verdict.String()).Inc()
	}
	orchestrator.OnApprovalOutcome = func(decision approval.DecisionKind) {
		metrics.ApprovalOutcomes.WithLabelValues(decision.String()).Inc()
	}

	principal := service.InferPrincipal(*cfg)

	socketOpts := upstream.TuneOptions{
		NoDelay:          cfg.Socket.NoDelay,
		KeepAlive:        cfg.Socket.KeepaliveSecs > 0,
		KeepAlivePeriod:  time.Duration(cfg.Socket.KeepaliveSecs) * time.Second,
		ReadBufferBytes:  cfg.Socket.BufferBytes,
		WriteBufferBytes: cfg.Socket.BufferBytes,
	}
	upstreamClient := upstream.NewClient(socketOpts)

	lifecycle := service.NewLifecycle(cfg.MaxConcurrentStreams, cfg.ShutdownDrainTimeout)

	handler := httpadapter.NewHandler(
		orchestrator,
		lifecycle,
		upstreamClient,
		cfg.Upstream,
		principal,
		time.Duration(cfg.Stream.ReadTimeoutSecs)*time.Second,
		time.Duration(cfg.Stream.WriteTimeoutSecs)*time.Second,
		time.Duration(cfg.Stream.TotalTimeoutSecs)*time.Second,
		cfg.Approval.LivenessCheck,
		providers,
		metrics,
		logger,
	)

	health := httpadapter.NewHealthChecker(lifecycle, engine, coordinator.Store(), Version)

	transport := httpadapter.NewTransport(cfg.Listen, socketOpts, handler, lifecycle, health, metrics, reg, logger)

	go reloader.Run(ctx)
	go coordinator.Run(ctx, time.Duration(cfg.Approval.PollIntervalSecs)*time.Second)
	go expireOverdueLoop(ctx, coordinator)

	logger.Info("thoughtgate starting", "version", Version, "listen", cfg.Listen, "upstream", cfg.Upstream)
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("transport stopped: %w", err)
	}
	return nil
}

// expireOverdueLoop periodically sweeps pending approval records whose
// deadline has passed without a decision. Record.Await is what actually
// unblocks a waiting HTTP request; this sweep only cleans out records
// nobody is actively awaiting anymore.
func expireOverdueLoop(ctx context.Context, coordinator *service.ApprovalCoordinator) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coordinator.ExpireOverdue(ctx)
		}
	}
}
