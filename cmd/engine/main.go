package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"databurn/internal/audit"
	"databurn/internal/auth"
	"databurn/internal/chain"
	"databurn/internal/config"
	"databurn/internal/domain"
	"databurn/internal/feed"
	"databurn/internal/ledger"
	"databurn/internal/observability"
	"databurn/internal/orchestrator"
	"databurn/internal/registry"
	"databurn/internal/scheduler"
	"databurn/internal/storage"
	chstore "databurn/internal/storage/clickhouse"
	"databurn/internal/storage/migrations"
	pgstore "databurn/internal/storage/postgres"
	"databurn/internal/swapexec"
	"databurn/internal/treasury"
)

// Principals the engine's internal callers run under.
const (
	schedulerPrincipal auth.Principal = "scheduler"
	feedPrincipal      auth.Principal = "payments-feed"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration")
	registryPath := flag.String("registry", "", "Path to YAML DLP registry file")
	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("validate config: %v", err)
	}

	metrics := observability.NewMetrics("")
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", cfg.Metrics.ListenAddr)
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage.
	pool, err := pgstore.NewPool(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("run postgres migrations: %v", err)
	}
	epochStore := pgstore.NewEpochStore(pool)

	var recorder audit.Recorder = audit.NewNoopRecorder()
	var chConn *chstore.Conn
	if cfg.Database.ClickhouseDSN != "" {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.Database.ClickhouseDSN)
		if err != nil {
			logger.Fatalf("run clickhouse migrations: %v", err)
		}
		defer chConn.Close()
		recorder = chstore.NewAuditEventStore(chConn)
	} else {
		logger.Println("clickhouse disabled, audit events will not be persisted")
	}

	// The effective configuration goes into the audit log so indexers can
	// tie parameter changes to a restart.
	configEvent := &domain.AuditEvent{
		EventType: domain.EventConfigUpdated,
		Timestamp: time.Now().UnixMilli(),
		Detail: fmt.Sprintf("protocol_share_bps=%d cost_skim_bps=%d max_slippage_bps=%d impact_threshold_bps=%d epoch_block_cadence=%d",
			cfg.Engine.ProtocolShareBps, cfg.Engine.CostSkimBps, cfg.Engine.MaxSlippageBps,
			cfg.Engine.ImpactThresholdBps, cfg.Engine.EpochBlockCadence),
	}
	if err := recorder.Record(ctx, configEvent); err != nil {
		logger.Printf("record config event: %v", err)
	}

	// Collaborators.
	gateway := chain.NewClient(cfg.Chain.GatewayURL)
	reg, err := loadRegistry(*registryPath)
	if err != nil {
		logger.Fatalf("load registry: %v", err)
	}

	fundLedger, err := ledger.New(ledger.Options{
		USDCAddress:      cfg.Assets.USDCAddress,
		VANAAddress:      cfg.Assets.VANAAddress,
		ProtocolShareBps: cfg.Engine.ProtocolShareBps,
		Recorder:         recorder,
	})
	if err != nil {
		logger.Fatalf("create ledger: %v", err)
	}

	executor := swapexec.NewExecutor(swapexec.Options{
		Router:    gateway,
		Liquidity: gateway,
	})
	tr := treasury.New(recorder)

	authorizer := auth.NewStaticAuthorizer(map[auth.Principal][]auth.Capability{
		schedulerPrincipal: {auth.CapabilityExecutor},
		feedPrincipal:      {auth.CapabilityDataAccess},
	})

	orch, err := orchestrator.New(orchestrator.Options{
		Ledger:    fundLedger,
		Executor:  executor,
		Treasury:  tr,
		Registry:  reg,
		Oracle:    gateway,
		Transfers: gateway,
		Recorder:  recorder,
		Auth:      authorizer,
		Epochs:    epochStore,
		Metrics:   metrics,
		Logger:    logger,
		Params: orchestrator.Params{
			USDCAddress:        cfg.Assets.USDCAddress,
			VANAAddress:        cfg.Assets.VANAAddress,
			PoolFee:            cfg.Engine.PoolFee,
			CostSkimBps:        cfg.Engine.CostSkimBps,
			MaxSlippageBps:     cfg.Engine.MaxSlippageBps,
			ImpactThresholdBps: cfg.Engine.ImpactThresholdBps,
			EpochBlockCadence:  cfg.Engine.EpochBlockCadence,
			ComputeSinkAddress: cfg.Engine.ComputeSinkAddress,
			BurnAddress:        cfg.Engine.BurnAddress,
		},
		InitialEpoch:              resumeEpoch(ctx, logger, epochStore),
		InitialLastExecutionBlock: resumeBlock(ctx, epochStore),
	})
	if err != nil {
		logger.Fatalf("create orchestrator: %v", err)
	}

	// Payments feed.
	var feedClient *feed.Client
	if cfg.Feed.URL != "" {
		if err := authorizer.Require(feedPrincipal, auth.CapabilityDataAccess); err != nil {
			logger.Fatalf("payments feed: %v", err)
		}
		feedClient, err = feed.NewClient(ctx, cfg.Feed.URL, fundLedger, tr, metrics, nil)
		if err != nil {
			logger.Fatalf("connect payments feed: %v", err)
		}
		defer feedClient.Close()
		logger.Printf("payments feed connected: %s", cfg.Feed.URL)
	}

	// Scheduler.
	sched := scheduler.NewScheduler(ctx, orch, gateway, reg, schedulerPrincipal)
	if err := sched.RegisterAll(cfg.Schedule.ProtocolShareCron, cfg.Schedule.DLPShareCron, cfg.Schedule.TreasuryDistributionCron); err != nil {
		logger.Fatalf("register schedule: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)
	cancel()

	shutdownTimer := time.AfterFunc(30*time.Second, func() {
		logger.Println("Graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	})
	defer shutdownTimer.Stop()
}

// registryEntry mirrors the YAML registry file format.
type registryEntry struct {
	TokenAddress string `yaml:"token_address"`
	LpPositionID int64  `yaml:"lp_position_id"`
}

// loadRegistry reads the DLP registry from a YAML file mapping entity id to
// entry. A missing path yields an empty registry.
func loadRegistry(path string) (*registry.StaticRegistry, error) {
	if path == "" {
		return registry.NewStaticRegistry(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[int64]registryEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	entries := make(map[int64]registry.Entry, len(raw))
	for id, e := range raw {
		entries[id] = registry.Entry{TokenAddress: e.TokenAddress, LpPositionID: e.LpPositionID}
	}
	return registry.NewStaticRegistry(entries), nil
}

// resumeEpoch reads the latest persisted epoch so restarts continue the
// sequence instead of resetting it.
func resumeEpoch(ctx context.Context, logger *log.Logger, epochs storage.EpochStore) int64 {
	latest, err := epochs.GetLatest(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Printf("read latest epoch: %v", err)
		}
		return 0
	}
	logger.Printf("resuming from epoch %d", latest.ID)
	return latest.ID
}

func resumeBlock(ctx context.Context, epochs storage.EpochStore) int64 {
	latest, err := epochs.GetLatest(ctx)
	if err != nil {
		return 0
	}
	return latest.StartBlock
}
