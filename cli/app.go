package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"golang.org/x/time/rate"

	orchestrator "github.com/MLAN1O/atlas/agent/agents/orchestrator"
	reasoner "github.com/MLAN1O/atlas/agent/agents/reasoner"
	specialist "github.com/MLAN1O/atlas/agent/agents/specialist"
	capabilityx "github.com/MLAN1O/atlas/agent/capability"
	catalogx "github.com/MLAN1O/atlas/agent/catalog"
	datastorex "github.com/MLAN1O/atlas/agent/datastore"
	dispatchx "github.com/MLAN1O/atlas/agent/dispatch"
	llmx "github.com/MLAN1O/atlas/agent/llm"
	promptx "github.com/MLAN1O/atlas/agent/prompt"
	statex "github.com/MLAN1O/atlas/agent/state"
	configx "github.com/MLAN1O/atlas/pkg/config"
	qstashx "github.com/MLAN1O/atlas/pkg/qstash"
)

const (
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
	backendUpstash  = "upstash"
)

type AppConfig struct {
	StateBackend string `envconfig:"STATE_BACKEND" split_words:"true" default:"sqlite"`
	SQLitePath   string `envconfig:"SQLITE_PATH" split_words:"true" default:"data/atlas.db"`
	// PromptDir overrides the embedded prompts with files of the same name.
	PromptDir string `envconfig:"PROMPT_DIR" split_words:"true"`
}

// app owns every long-lived resource of a process.
type app struct {
	engine  *orchestrator.Engine
	db      *bun.DB
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context) (_ *app, err error) {
	appCfg, err := configx.New[AppConfig]("ATLAS")
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}
	llmCfg, err := configx.New[llmx.Config]("OPENROUTER")
	if err != nil {
		return nil, fmt.Errorf("load llm config: %w", err)
	}
	dbCfg, err := configx.New[datastorex.Config]("DATABASE")
	if err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}
	dispatchCfg, err := configx.New[dispatchx.Config]("DISPATCH")
	if err != nil {
		return nil, fmt.Errorf("load dispatch config: %w", err)
	}
	engineCfg, err := configx.New[orchestrator.Config]("ENGINE")
	if err != nil {
		return nil, fmt.Errorf("load engine config: %w", err)
	}
	qstashCfg, err := configx.New[qstashx.Config]("QSTASH")
	if err != nil {
		return nil, fmt.Errorf("load qstash config: %w", err)
	}

	a := &app{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := datastorex.Open(ctx, *dbCfg)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	records, err := datastorex.NewBunStore(db, *dbCfg)
	if err != nil {
		return nil, err
	}
	catalog, err := catalogx.Default()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	prompts, err := promptx.LoadPromptSetFrom(appCfg.PromptDir)
	if err != nil {
		return nil, err
	}
	helpers, err := specialist.NewSet(ctx, *llmCfg, prompts)
	if err != nil {
		return nil, err
	}
	registry, err := capabilityx.NewDefaultRegistry(capabilityx.Deps{
		Catalog:   catalog,
		Records:   records,
		Planner:   helpers.Planner,
		Formatter: helpers.Reporter,
	})
	if err != nil {
		return nil, err
	}
	dispatcher, err := dispatchx.New(registry, *dispatchCfg)
	if err != nil {
		return nil, err
	}

	r, err := newReasoner(ctx, *llmCfg, prompts.Orchestrator, registry)
	if err != nil {
		return nil, err
	}

	store, err := openStateStore(ctx, *appCfg, db, a)
	if err != nil {
		return nil, err
	}

	var opts []orchestrator.Option
	if qstashCfg.Enabled() {
		client, err := qstashx.NewClient(*qstashCfg)
		if err != nil {
			return nil, fmt.Errorf("qstash client: %w", err)
		}
		opts = append(opts, orchestrator.WithNotifier(newQStashNotifier(client, qstashCfg.Destination)))
	}

	engine, err := orchestrator.New(store, r, registry, dispatcher, *engineCfg, opts...)
	if err != nil {
		return nil, err
	}
	a.engine = engine

	log.Info().
		Str("state_backend", appCfg.StateBackend).
		Strs("capabilities", capabilityNames(registry)).
		Bool("notifier", qstashCfg.Enabled()).
		Msg("engine ready")
	return a, nil
}

func newReasoner(ctx context.Context, cfg llmx.Config, systemPrompt string, registry *capabilityx.Registry) (*reasoner.Reasoner, error) {
	modelCfg := cfg.OpenRouterFor(llmx.RoleOrchestrator)
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	opts := append(reasonerOptions(cfg), reasoner.WithLimiter(rate.NewLimiter(limit, burst)))
	return reasoner.New(ctx, chatModel, systemPrompt, registry.ToolInfos(), opts...)
}

func reasonerOptions(cfg llmx.Config) []reasoner.Option {
	return []reasoner.Option{
		reasoner.WithTimeout(cfg.Timeout),
		reasoner.WithMaxHistory(cfg.MaxHistory),
	}
}

func openStateStore(ctx context.Context, cfg AppConfig, db *bun.DB, a *app) (statex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StateBackend)) {
	case backendSQLite, "":
		st, err := statex.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite state store: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	case backendPostgres:
		if err := statex.Migrate(ctx, db.DB, goose.DialectPostgres); err != nil {
			return nil, err
		}
		return statex.NewPostgresStore(db)
	case backendUpstash:
		upCfg, err := configx.New[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		if err != nil {
			return nil, fmt.Errorf("load upstash config: %w", err)
		}
		return statex.NewUpstashRedisStore(*upCfg)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}

func capabilityNames(registry *capabilityx.Registry) []string {
	infos := registry.Infos()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}
