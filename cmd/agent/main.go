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
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/agent"
	"github.com/arcforge/loreweaver/ai"
	"github.com/arcforge/loreweaver/api"
	"github.com/arcforge/loreweaver/api/handlers"
	"github.com/arcforge/loreweaver/config"
	"github.com/arcforge/loreweaver/core"
	"github.com/arcforge/loreweaver/dispatcher"
	"github.com/arcforge/loreweaver/evolution"
	"github.com/arcforge/loreweaver/mentions"
	"github.com/arcforge/loreweaver/pipeline"
	"github.com/arcforge/loreweaver/platform"
	"github.com/arcforge/loreweaver/storage"
)

func main() {
	stage := flag.String("stage", "dev", "Configuration stage (loads .env.<stage>)")
	character := flag.String("character", "", "Seed character name (overrides CHARACTER_NAME)")
	flag.Parse()

	cfg, err := config.Load(*stage)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *character != "" {
		cfg.CharacterName = *character
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("agent exited", "error", err)
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(storage.DefaultConfig(cfg.DataDir), sugar)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	broker, err := core.NewBroker(cfg.NatsURL, sugar)
	if err != nil {
		return fmt.Errorf("connecting event broker: %w", err)
	}
	defer broker.Close()

	chars := storage.NewCharacterRepository(store)
	repo := storage.NewAgentRepository(store)

	active, err := bootstrapLineage(cfg, chars, sugar)
	if err != nil {
		return err
	}
	state, err := bootstrapEvolutionState(cfg, repo, active.Version)
	if err != nil {
		return err
	}

	gen := ai.NewOpenAIClient(cfg.OpenAIAPIKey, ai.LLMConfig{
		Model:       cfg.Model,
		Temperature: 1.0,
		Timeout:     cfg.GenTimeout,
	}, sugar)
	prompts := ai.NewPromptBuilder(cfg.MaxPostChars)
	policy := ai.RetryPolicy{MaxRetries: cfg.GenMaxRetries, InitialInterval: 500 * time.Millisecond}

	machine := evolution.NewMachine(state, chars, repo, gen, prompts, policy,
		cfg.MaxTokens, cfg.MaxBranchFailures, broker, sugar)

	var research pipeline.ResearchFn
	if cfg.EnableResearch && cfg.SerpAPIKey != "" {
		searchCfg := ai.DefaultSearchConfig(cfg.SerpAPIKey)
		research = func(query string) (string, error) {
			return ai.ResearchSnippets(query, searchCfg)
		}
	}

	pl := pipeline.New(cfg.LineageID, gen, prompts, machine, repo, policy,
		cfg.MaxTokens, cfg.MaxPostChars, research, sugar)

	var dest platform.Platform
	if cfg.Debug {
		sugar.Info("debug mode: dispatching to local sink, platform capability disabled")
		dest = platform.NewDebugSink(os.Stdout)
	} else {
		dest = platform.NewHTTPClient(cfg.PlatformBaseURL, cfg.PlatformToken, 30*time.Second)
	}

	tracker := mentions.NewTracker(cfg.LineageID, dest, repo, cfg.MentionFetchLimit, sugar)
	disp := dispatcher.New(dest, repo, machine, broker, cfg.DispatchMaxAttempts, sugar)
	ag := agent.New(machine, pl, tracker, disp, repo, cfg.PostInterval, cfg.PollInterval, sugar)

	h := handlers.New(ag, chars, repo, broker, cfg.LineageID, sugar)
	srv := api.NewServer(cfg.APIPort, h)
	go func() {
		sugar.Infow("operator API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("operator API failed", "error", err)
		}
	}()

	err = ag.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		sugar.Warnw("operator API shutdown", "error", serr)
	}
	return err
}

// bootstrapLineage seeds version 1 from the character file on first run.
func bootstrapLineage(cfg config.Config, chars *storage.CharacterRepository, sugar *zap.SugaredLogger) (core.CharacterProfile, error) {
	active, err := chars.GetActive(cfg.LineageID)
	if err == nil {
		sugar.Infow("lineage loaded", "lineage", cfg.LineageID, "active_version", active.Version)
		return active, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.CharacterProfile{}, fmt.Errorf("loading lineage: %w", err)
	}

	seedPath := filepath.Join(cfg.SeedDir, cfg.CharacterName+".json")
	seed, err := core.LoadSeedProfile(seedPath, cfg.LineageID)
	if err != nil {
		return core.CharacterProfile{}, err
	}
	if _, err := chars.CreateVersion(seed); err != nil {
		return core.CharacterProfile{}, fmt.Errorf("seeding lineage: %w", err)
	}
	if err := chars.SetActive(cfg.LineageID, seed.Version); err != nil {
		return core.CharacterProfile{}, fmt.Errorf("activating seed version: %w", err)
	}
	sugar.Infow("lineage bootstrapped", "lineage", cfg.LineageID, "character", seed.Alias)
	return seed, nil
}

func bootstrapEvolutionState(cfg config.Config, repo *storage.AgentRepository, activeVersion int) (core.EvolutionState, error) {
	state, err := repo.LoadEvolutionState(cfg.LineageID)
	if errors.Is(err, core.ErrNotFound) {
		state = core.EvolutionState{
			LineageID:       cfg.LineageID,
			ActiveVersion:   activeVersion,
			BranchThreshold: cfg.BranchThreshold,
		}
		if err := repo.SaveEvolutionState(state); err != nil {
			return core.EvolutionState{}, fmt.Errorf("initializing evolution state: %w", err)
		}
		return state, nil
	}
	if err != nil {
		return core.EvolutionState{}, fmt.Errorf("loading evolution state: %w", err)
	}
	// Threshold is configuration, not history.
	state.BranchThreshold = cfg.BranchThreshold
	return state, nil
}
