// Package main wires the job orchestration substrate into a runnable
// process: store, router, registry, job queue, worker pool, validator,
// approval coordinator, standing-rule evaluator, DAG executor, circuit
// breaker, and retention/backup, started and stopped by a lifecycle.Manager.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shreyasdbz/axis/approval"
	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/dag"
	"github.com/shreyasdbz/axis/httpapi"
	"github.com/shreyasdbz/axis/idempotency"
	"github.com/shreyasdbz/axis/jobqueue"
	"github.com/shreyasdbz/axis/lifecycle"
	"github.com/shreyasdbz/axis/registry"
	"github.com/shreyasdbz/axis/resilience"
	"github.com/shreyasdbz/axis/retention"
	"github.com/shreyasdbz/axis/router"
	"github.com/shreyasdbz/axis/standingrule"
	"github.com/shreyasdbz/axis/store"
	"github.com/shreyasdbz/axis/telemetry"
	"github.com/shreyasdbz/axis/validator"
	"github.com/shreyasdbz/axis/workerpool"
)

// Version is set via -ldflags at release build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "axis: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var dataDir string
	var vaultPassword string
	var policyPath string
	var httpAddr string

	rootCmd := &cobra.Command{
		Use:     "axis",
		Short:   "Local-first agentic job orchestration substrate",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), serveOptions{
				dataDir:       dataDir,
				vaultPassword: vaultPassword,
				policyPath:    policyPath,
				httpAddr:      httpAddr,
			})
		},
	}
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "override AXIS_DATA_DIR")
	rootCmd.Flags().StringVar(&vaultPassword, "vault-password", "", "backup encryption password (required)")
	rootCmd.Flags().StringVar(&policyPath, "policy-file", "", "path to policy.yaml (default <data-dir>/policy.yaml)")
	rootCmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:8085", "address the local control API listens on")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

type serveOptions struct {
	dataDir       string
	vaultPassword string
	policyPath    string
	httpAddr      string
}

func serve(ctx context.Context, opts serveOptions) error {
	cfg := core.LoadConfig()
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.vaultPassword == "" {
		return fmt.Errorf("--vault-password is required to derive the backup encryption key")
	}

	logger := core.NewZapLogger(cfg.LogFormat, cfg.LogLevel)
	tel := telemetry.New("axis", logger)

	st, err := store.Open(ctx, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	auditWriter := router.NewSQLiteAuditWriter(st.Meridian)
	rtr := router.New(
		router.WithAuditWriter(auditWriter),
		router.WithLogger(logger),
		router.WithTelemetry(tel),
		router.WithMaxMessageSize(cfg.MaxMessageSizeBytes),
		router.WithWarningThreshold(cfg.MessageWarningThreshold),
	)
	reg := registry.New(rtr, registry.WithLogger(logger))

	queue := jobqueue.New(st,
		jobqueue.WithLogger(logger),
		jobqueue.WithRouter(rtr),
		jobqueue.WithDefaultMaxAttempts(cfg.DefaultMaxAttempts),
	)

	idemLog := idempotency.New(st.Meridian, idempotency.WithLogger(logger))

	policyFilePath := opts.policyPath
	if policyFilePath == "" {
		policyFilePath = filepath.Join(cfg.DataDir, "policy.yaml")
	}
	policyConfig, err := validator.LoadPolicyConfig(policyFilePath)
	if err != nil {
		logger.Warn("policy config not found, falling back to workspace-root-only defaults", map[string]interface{}{"error": err.Error()})
		policyConfig = validator.PolicyConfig{WorkspaceRoot: cfg.DataDir}
	}
	policy := validator.NewRuleBasedPolicy(policyConfig, validator.WithLogger(logger))

	rules := standingrule.New(st.Meridian,
		standingrule.WithLogger(logger),
		standingrule.WithRouter(rtr),
		standingrule.WithSuggestionCount(cfg.StandingRuleSuggestionCount),
	)

	coordinator := approval.New(st.Meridian, queue,
		approval.WithLogger(logger),
		approval.WithRouter(rtr),
		approval.WithRules(rules),
		approval.WithNonceTTL(cfg.ApprovalNonceTTL),
	)

	breakers := resilience.NewManager(resilience.DefaultConfig(), logger)

	executor := dag.New(
		dag.WithLogger(logger),
		dag.WithTelemetry(tel),
		dag.WithCircuitPredicate(breakers.Predicate()),
	)

	pool := workerpool.New(queue, newProcessor(queue, idemLog, policy, coordinator, executor, rtr, logger),
		workerpool.WithSize(cfg.WorkerPoolSize),
		workerpool.WithPollInterval(cfg.QueuePollInterval),
		workerpool.WithShutdownWait(cfg.GracefulShutdownWait),
		workerpool.WithLogger(logger),
	)

	salt := []byte("axis-backup-salt-v1") // fixed per-install salt; rotated by re-deriving under a new install.
	key := retention.DeriveKey(opts.vaultPassword, salt, retention.TierStandard)

	sweeper := retention.New(st.Meridian, st.Journal,
		retention.WithLogger(logger),
		retention.WithConversationAge(durationDays(cfg.RetentionConversationDays)),
		retention.WithEpisodicAge(durationDays(cfg.RetentionEpisodicDays)),
		retention.WithExecutionLogAge(durationDays(cfg.RetentionExecutionLogDays)),
	)
	backuper := retention.NewBackuper(cfg.DataDir, key,
		retention.WithBackupLogger(logger),
		retention.WithDailyCount(cfg.BackupDailyCount),
		retention.WithWeeklyCount(cfg.BackupWeeklyCount),
		retention.WithMonthlyCount(cfg.BackupMonthlyCount),
	)

	mgr := lifecycle.New(lifecycle.WithLogger(logger))
	mgr.Store = st
	mgr.Router = rtr
	mgr.Registry = reg
	mgr.Queue = queue
	mgr.Pool = pool
	mgr.Breakers = breakers
	mgr.Retention = sweeper
	mgr.Backup = backuper
	mgr.Telemetry = tel

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start lifecycle manager: %w", err)
	}
	logger.Info("axis substrate ready", map[string]interface{}{"dataDir": cfg.DataDir})

	api := httpapi.New(rtr, queue, coordinator, mgr, httpapi.WithLogger(logger))
	srv := &http.Server{Addr: opts.httpAddr, Handler: api.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("control api server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	logger.Info("control api listening", map[string]interface{}{"addr": opts.httpAddr})

	<-ctx.Done()
	logger.Info("shutting down", nil)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownWait)
	defer cancel()
	_ = srv.Shutdown(stopCtx)
	stopErr := mgr.Stop(stopCtx)
	_ = tel.Shutdown(stopCtx)
	return stopErr
}

func durationDays(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
