package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/yuelin/mamavillage/internal/agent"
	"github.com/yuelin/mamavillage/internal/api"
	"github.com/yuelin/mamavillage/internal/config"
	"github.com/yuelin/mamavillage/internal/embedding"
	"github.com/yuelin/mamavillage/internal/feed"
	"github.com/yuelin/mamavillage/internal/memory"
	"github.com/yuelin/mamavillage/internal/profile"
	"github.com/yuelin/mamavillage/internal/provider"
	"github.com/yuelin/mamavillage/internal/recall"
	"github.com/yuelin/mamavillage/internal/sim"
	"github.com/yuelin/mamavillage/internal/social"
	pgstore "github.com/yuelin/mamavillage/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Mama Village...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/village.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Load villager profiles
	profiles, err := profile.LoadDir(cfg.ProfilesDir, logger)
	if err != nil {
		logger.Fatal("failed to load profiles", zap.String("dir", cfg.ProfilesDir), zap.Error(err))
	}
	if len(profiles) == 0 {
		logger.Fatal("no villager profiles found", zap.String("dir", cfg.ProfilesDir))
	}

	// Initialize provider router
	router := provider.NewRouter(logger)
	var fallbacks []string
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey, Model: pc.Model,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type",
				zap.String("id", pc.ID), zap.String("type", pc.Type))
			continue
		}
		if pc.Default {
			router.SetDefault(pc.ID)
		}
		if pc.Fallback {
			fallbacks = append(fallbacks, pc.ID)
		}
	}
	router.SetFallbacks(fallbacks)

	// Initialize record store: PostgreSQL when configured, in-memory otherwise
	var store memory.Store
	var pg *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Fatal("PostgreSQL unavailable", zap.Error(pgErr))
		}
		if mErr := ps.Migrate(context.Background(), cfg.Database.Postgres.MigrationsDir); mErr != nil {
			logger.Fatal("migration failed", zap.Error(mErr))
		}
		pg = ps
		store = ps
	} else {
		logger.Warn("no postgres DSN configured, records will not survive restarts")
		store = memory.NewMemStore(logger)
	}

	// Register villagers and build runtimes
	var runtimes []*agent.Runtime
	for _, p := range profiles {
		if err := store.RegisterAgent(context.Background(), p.ID, p.Name); err != nil {
			logger.Fatal("failed to register villager", zap.String("id", p.ID), zap.Error(err))
		}
		runtimes = append(runtimes, agent.NewRuntime(p, store, logger))
	}
	roster := agent.NewRoster(runtimes)

	// Decision policy
	heuristic := agent.HeuristicPolicy{
		PlanEvery:    cfg.Simulation.PlanEvery,
		ReflectEvery: cfg.Simulation.ReflectEvery,
	}
	var policy agent.DecisionPolicy = heuristic
	if cfg.Simulation.UseProviderPolicy {
		policy = agent.ProviderPolicy{Chat: router, Fallback: heuristic, Logger: logger}
	}

	// Optional collaborators
	var workflowOpts []sim.WorkflowOption

	var socialGraph *social.Graph
	if cfg.Database.Neo4j.Enabled {
		driver, drvErr := neo4j.NewDriverWithContext(cfg.Database.Neo4j.URI,
			neo4j.BasicAuth(cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, ""))
		if drvErr != nil {
			logger.Warn("Neo4j unavailable, running without social graph", zap.Error(drvErr))
		} else {
			socialGraph = social.NewGraph(driver, 0, 0, logger)
			for _, p := range profiles {
				if err := socialGraph.EnsureVillager(context.Background(), p.ID, p.Name); err != nil {
					logger.Warn("failed to seed villager node", zap.String("id", p.ID), zap.Error(err))
				}
			}
			workflowOpts = append(workflowOpts, sim.WithRelations(socialGraph))
		}
	}

	var recaller *recall.Recaller
	if cfg.Database.Qdrant.Enabled {
		qc, qErr := recall.NewClient(recall.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without recall", zap.Error(qErr))
		} else {
			embedder := embedding.New(embedding.Config{
				Provider:  cfg.Embedding.Provider,
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			})
			rc, rErr := recall.NewRecaller(context.Background(), qc, embedder, "", logger)
			if rErr != nil {
				logger.Warn("recall setup failed", zap.Error(rErr))
			} else {
				recaller = rc
				workflowOpts = append(workflowOpts, sim.WithRecall(recaller))
			}
		}
	}

	var sinks []feed.Sink
	if cfg.Database.Redis.Enabled && cfg.Database.Redis.URL != "" {
		rs, rErr := feed.NewRedisSink(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without stream feed", zap.Error(rErr))
		} else {
			sinks = append(sinks, rs)
		}
	}
	if cfg.Feed.Slack.Enabled && cfg.Feed.Slack.BotToken != "" {
		names := make(map[string]string, len(profiles))
		for _, p := range profiles {
			names[p.ID] = p.Name
		}
		sinks = append(sinks, feed.NewSlackSink(cfg.Feed.Slack.BotToken, cfg.Feed.Slack.ChannelID, names, logger))
	}
	if cfg.Feed.Discord.Enabled && cfg.Feed.Discord.BotToken != "" {
		ds, dErr := feed.NewDiscordSink(cfg.Feed.Discord.BotToken, cfg.Feed.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable, running without discord feed", zap.Error(dErr))
		} else {
			sinks = append(sinks, ds)
		}
	}
	for _, s := range sinks {
		workflowOpts = append(workflowOpts, sim.WithSink(s))
	}

	// Build the cognitive workflow and scheduler
	workflow := sim.NewWorkflow(store, router, policy, roster, logger, workflowOpts...)

	simCfg := sim.Config{
		TickStep: time.Duration(cfg.Simulation.TickStepMinutes) * time.Minute,
	}
	if h := cfg.Simulation.StartHour; h != nil && *h >= 0 && *h <= 23 {
		now := time.Now()
		simCfg.StartTime = time.Date(now.Year(), now.Month(), now.Day(),
			*h, 0, 0, 0, now.Location())
	}
	scheduler := sim.NewScheduler(simCfg, roster, workflow, logger)
	if socialGraph != nil {
		scheduler.AddListener(socialGraph)
	}

	// Kick off the default run when limits are configured
	if cfg.Simulation.MaxTicks > 0 || cfg.Simulation.MaxConversations > 0 {
		go func() {
			limits := sim.Limits{
				MaxTicks:         cfg.Simulation.MaxTicks,
				MaxConversations: cfg.Simulation.MaxConversations,
			}
			if err := scheduler.Run(context.Background(), limits); err != nil {
				logger.Error("simulation run failed", zap.Error(err))
			}
		}()
	}

	// Periodic retention cleanup
	retentionDone := make(chan struct{})
	if cfg.Simulation.RetentionDays > 0 {
		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-retentionDone:
					return
				case <-ticker.C:
					horizon := time.Now().AddDate(0, 0, -cfg.Simulation.RetentionDays)
					if _, err := store.RetentionCleanup(context.Background(), horizon); err != nil {
						logger.Warn("retention cleanup failed", zap.Error(err))
					}
				}
			}
		}()
	}

	// Build HTTP handler
	handler := api.NewHandler(scheduler, store, roster, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Mama Village listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Mama Village...")
	scheduler.RequestStop()
	// Let the in-flight tick finish before anything it writes to closes.
	scheduler.Wait()
	close(retentionDone)

	ctx := context.Background()
	srv.Shutdown(ctx)
	for _, s := range sinks {
		s.Close()
	}
	if socialGraph != nil {
		socialGraph.Close(ctx)
	}
	if pg != nil {
		pg.Close(ctx)
	} else {
		store.Close(ctx)
	}
}
