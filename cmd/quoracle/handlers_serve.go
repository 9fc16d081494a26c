package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quoracle/quoracle/internal/ace"
	"github.com/quoracle/quoracle/internal/ace/lessons"
	"github.com/quoracle/quoracle/internal/ace/reflector"
	"github.com/quoracle/quoracle/internal/agentcore"
	"github.com/quoracle/quoracle/internal/config"
	"github.com/quoracle/quoracle/internal/consensus"
	"github.com/quoracle/quoracle/internal/eventbus"
	execsafety "github.com/quoracle/quoracle/internal/exec"
	"github.com/quoracle/quoracle/internal/historytransfer"
	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/llmclient/anthropic"
	"github.com/quoracle/quoracle/internal/llmclient/gemini"
	"github.com/quoracle/quoracle/internal/llmclient/openai"
	"github.com/quoracle/quoracle/internal/mcpclient"
	"github.com/quoracle/quoracle/internal/observability"
	"github.com/quoracle/quoracle/internal/persistence"
	"github.com/quoracle/quoracle/internal/router"
	"github.com/quoracle/quoracle/internal/scheduler"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/internal/tree"
	"github.com/quoracle/quoracle/pkg/models"
)

// defaultEmbeddingModel is the embedding model_spec used by the Lesson
// Manager's dedup pass (spec.md §4.3). Unlike the three generation
// providers, the runtime has exactly one embedding backend — OpenAI —
// grounded on internal/llmclient/openai/embed.go.
const defaultEmbeddingModel = models.ModelSpec("openai:text-embedding-3-small")

// providerRegistry satisfies both llmquery.Registry and
// historytransfer.ProviderLookup (both declare the identical
// Provider(spec) (llmclient.Provider, bool) method) from a single
// provider-prefix-keyed map, built once at startup from the configured
// credentials (spec.md §4.5, §4.10).
type providerRegistry map[models.ModelSpec]llmclient.Provider

func (r providerRegistry) Provider(spec models.ModelSpec) (llmclient.Provider, bool) {
	p, ok := r[spec]
	return p, ok
}

// buildProviderRegistry resolves one llmclient.Provider per catalog entry
// by splitting its model_spec on its "<provider>:" prefix (pkg/models'
// documented ModelSpec shape, e.g. "anthropic:claude-sonnet-4"). A model
// whose provider has no configured credentials is simply absent from the
// registry — callers see it as an unresolvable model, matching spec.md
// §4.10's "validate new_pool against the credential catalog".
func buildProviderRegistry(ctx context.Context, cfg *config.Config) (providerRegistry, error) {
	registry := providerRegistry{}

	var anthropicProvider *anthropic.Provider
	var openaiProvider *openai.Provider
	var geminiProvider *gemini.Provider

	if key := cfg.Models.Providers.Anthropic.APIKey; key != "" {
		anthropicProvider = anthropic.New(anthropic.Config{APIKey: key, BaseURL: cfg.Models.Providers.Anthropic.BaseURL})
	}
	if key := cfg.Models.Providers.OpenAI.APIKey; key != "" {
		openaiProvider = openai.New(openai.Config{APIKey: key, BaseURL: cfg.Models.Providers.OpenAI.BaseURL})
	}
	if key := cfg.Models.Providers.Gemini.APIKey; key != "" {
		p, err := gemini.New(ctx, gemini.Config{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		geminiProvider = p
	}

	for _, entry := range cfg.Models.Catalog {
		prefix, _, ok := strings.Cut(string(entry.ModelSpec), ":")
		if !ok {
			continue
		}
		switch prefix {
		case "anthropic":
			if anthropicProvider != nil {
				registry[entry.ModelSpec] = anthropicProvider
			}
		case "openai":
			if openaiProvider != nil {
				registry[entry.ModelSpec] = openaiProvider
			}
		case "gemini":
			if geminiProvider != nil {
				registry[entry.ModelSpec] = geminiProvider
			}
		}
	}
	return registry, nil
}

// runtime bundles everything a spawned agent's Core needs, built once per
// "serve" process and closed over by the tree.Factory.
type runtime struct {
	cfg       *config.Config
	logger    *observability.Logger
	tracer    *observability.Tracer
	metrics   *observability.Metrics
	bus       *eventbus.Bus
	store     *persistence.SQLStore
	providers providerRegistry
	calc      *tokens.Calculator
	condenser *ace.Condenser
	catalog   *router.Catalog
	engine    *consensus.Engine
	registry  *tree.Registry
	mcp       *mcpclient.Manager
	sup       *tree.Supervisor
	sched     *scheduler.Scheduler
}

func runServe(cmd *cobra.Command, configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: logLevel, Format: cfg.Logging.Format})
	logger.Info(ctx, "quoracle starting", "config", configPath)

	metrics := observability.NewMetrics()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: "dev",
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint: func() string {
			if cfg.Observability.Tracing.Enabled {
				return cfg.Observability.Tracing.Endpoint
			}
			return ""
		}(),
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	bus := eventbus.New()

	store, err := persistence.Open(ctx, cfg.Persistence.Driver, cfg.Persistence.DSN)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}
	defer store.Close()

	providers, err := buildProviderRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	calc := tokens.NewCalculator(cfg.Models.CatalogMap(), nil)
	refl := reflector.New(calc)

	var embedder llmclient.Embedder
	if key := cfg.Models.Providers.OpenAI.APIKey; key != "" {
		embedder = openai.NewEmbedder(openai.Config{APIKey: key, BaseURL: cfg.Models.Providers.OpenAI.BaseURL})
	}
	lessonMgr := lessons.New(embedder, defaultEmbeddingModel)
	condenser := ace.New(calc, refl, lessonMgr, 100, 0.90)

	catalog := router.NewCatalog()
	if err := router.RegisterDefaults(catalog); err != nil {
		return fmt.Errorf("register action catalog: %w", err)
	}
	engine := consensus.New(calc, condenser, catalog)

	registry := tree.NewRegistry()

	mcpManager := mcpclient.NewManager(cfg.MCP, nil)
	if err := mcpManager.Start(ctx); err != nil {
		logger.Warn(ctx, "mcp manager start failed", "error", err)
	}
	defer mcpManager.Stop()

	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		tracer:    tracer,
		metrics:   metrics,
		bus:       bus,
		store:     store,
		providers: providers,
		calc:      calc,
		condenser: condenser,
		catalog:   catalog,
		engine:    engine,
		registry:  registry,
		mcp:       mcpManager,
	}

	profileWatcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		return fmt.Errorf("start profile catalog watcher: %w", err)
	}
	if err := profileWatcher.Start(ctx); err != nil {
		logger.Warn(ctx, "profile catalog watch disabled", "error", err)
	} else {
		defer profileWatcher.Close()
	}

	sup := tree.NewSupervisor(registry, rt.agentFactory, tree.Opts{
		Publisher:      bus,
		Deleter:        store,
		ProfileCatalog: profileWatcher,
		Logger:         sloggerAdapter{logger},
	})
	rt.sup = sup

	restored, err := restorePersistedAgents(ctx, store, sup)
	if err != nil {
		logger.Warn(ctx, "restore persisted agents failed", "error", err)
	} else if restored > 0 {
		logger.Info(ctx, "restored persisted agents", "count", restored)
	}

	sched := scheduler.New(scheduler.DefaultConfig(), mcpManager, registry, lessonMgr, store, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Warn(ctx, "scheduler start failed", "error", err)
	} else {
		rt.sched = sched
		defer sched.Stop()
	}

	httpServer, err := startHTTPServer(cfg, bus, logger, tracer)
	if err != nil {
		return err
	}

	logger.Info(ctx, "quoracle runtime ready")
	<-ctx.Done()
	logger.Info(ctx, "shutdown signal received, dismissing live agent trees")

	for _, id := range registry.RootIDs() {
		if err := sup.DismissTree(context.Background(), id, "server shutdown"); err != nil {
			logger.Error(ctx, "dismiss tree failed", "agent_id", string(id), "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(ctx, "http server shutdown error", "error", err)
	}
	return nil
}

// restorePersistedAgents loads every row the store reports as restorable
// and feeds it through the supervisor, re-deriving capability_groups and
// system_prompt per spec.md §4.9.
func restorePersistedAgents(ctx context.Context, store *persistence.SQLStore, sup *tree.Supervisor) (int, error) {
	ids, err := store.ListRestorable(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, id := range ids {
		row, err := store.Load(ctx, id)
		if err != nil {
			continue
		}
		if _, err := sup.Restore(ctx, row); err != nil {
			continue
		}
		restored++
	}
	return restored, nil
}

// agentFactory builds a running Core for cfg, satisfying tree.Factory.
func (rt *runtime) agentFactory(ctx context.Context, cfg models.AgentConfig) (tree.AgentHandle, error) {
	state := models.NewAgentState(cfg)
	deps := agentcore.Deps{
		Registry:      rt.providers,
		Engine:        rt.engine,
		Catalog:       rt.catalog,
		Executor:      rt.buildExecutor(),
		Notifier:      rt.buildNotifier(),
		ChildStatuses: rt.registry,
		PersistFlush: func(ctx context.Context, state *models.AgentState, usage models.Usage) {
			if err := rt.store.Save(ctx, state, usage); err != nil {
				rt.logger.Error(ctx, "persist agent state failed", "agent_id", string(state.Config.AgentID), "error", err)
			}
		},
		Calculator:     rt.calc,
		Condenser:      rt.condenser,
		ModelProviders: rt.providers,
		ModelResolver: historytransfer.ResolverFunc(func(spec models.ModelSpec) bool {
			_, ok := rt.providers.Provider(spec)
			return ok
		}),
		Tracer: rt.tracer,
		Logger: rt.logger,
	}
	core := agentcore.New(state, deps)
	go core.Run(ctx)
	rt.metrics.AgentSpawned(cfg.ProfileName)
	return core, nil
}

// buildNotifier delivers a consensus-exhausted notification to an agent's
// parent by looking the parent up in the live registry and routing it
// through HandleAgentMessage, matching spec.md §4.8's "notify parent,
// then stall".
func (rt *runtime) buildNotifier() agentcore.ParentNotifier {
	return agentcore.ParentNotifierFunc(func(ctx context.Context, agentID models.AgentID, content string) {
		entry, ok := rt.registry.Get(agentID)
		if !ok || entry.ParentHandle == nil {
			return
		}
		if core, ok := entry.ParentHandle.(interface {
			HandleAgentMessage(sender models.AgentID, content string)
		}); ok {
			core.HandleAgentMessage(agentID, content)
		}
	})
}

// buildExecutor wires the six default actions (router.RegisterDefaults)
// to concrete effects. spec.md §1 places the action implementations
// themselves out of this core's scope ("only their invocation contract is
// specified"); this executor is the minimal host-process wiring needed to
// exercise that contract end to end rather than a production-grade
// sandboxed shell or full MCP bridge.
func (rt *runtime) buildExecutor() agentcore.ActionExecutor {
	return agentcore.ActionExecutorFunc(func(ctx context.Context, actionID string, decision models.Decision, enqueue func(agentcore.AgentEvent)) agentcore.ExecOutcome {
		switch decision.Action {
		case "orient", "wait":
			return agentcore.ExecOutcome{OK: true, Result: decision.Reasoning}
		case "message":
			return rt.execMessage(decision)
		case "spawn":
			return rt.execSpawn(ctx, decision)
		case "shell":
			return rt.execShell(ctx, decision)
		case "call_mcp":
			return rt.execCallMCP(ctx, decision)
		default:
			return agentcore.ExecOutcome{OK: false, Reason: fmt.Sprintf("unknown action %q", decision.Action)}
		}
	})
}

func (rt *runtime) execMessage(decision models.Decision) agentcore.ExecOutcome {
	var params router.MessageParams
	if err := unmarshalParams(decision.Params, &params); err != nil {
		return agentcore.ExecOutcome{OK: false, Reason: err.Error()}
	}
	entry, ok := rt.registry.Get(params.TargetAgentID)
	if !ok {
		return agentcore.ExecOutcome{OK: false, Reason: fmt.Sprintf("target agent %s not found", params.TargetAgentID)}
	}
	if core, ok := entry.Handle.(interface {
		HandleAgentMessage(sender models.AgentID, content string)
	}); ok {
		core.HandleAgentMessage("", params.Content)
	}
	return agentcore.ExecOutcome{OK: true, Result: "message delivered"}
}

func (rt *runtime) execSpawn(ctx context.Context, decision models.Decision) agentcore.ExecOutcome {
	var params router.SpawnParams
	if err := unmarshalParams(decision.Params, &params); err != nil {
		return agentcore.ExecOutcome{OK: false, Reason: err.Error()}
	}
	childCfg := models.AgentConfig{
		TaskID:           params.TaskID,
		PromptFields:     params.PromptFields,
		ModelPool:        params.ModelPool,
		CapabilityGroups: params.CapabilityGroups,
	}
	handle, err := rt.sup.Spawn(ctx, childCfg)
	if err != nil {
		return agentcore.ExecOutcome{OK: false, Reason: err.Error()}
	}
	return agentcore.ExecOutcome{OK: true, Result: fmt.Sprintf("spawned %s", handle.State().Config.AgentID)}
}

// execShell validates the command and arguments with internal/exec's
// injection-safety checks before invocation — spec.md marks shell
// execution untrusted, so its result is NO_EXECUTE-wrapped by the core
// regardless of what this executor returns.
func (rt *runtime) execShell(ctx context.Context, decision models.Decision) agentcore.ExecOutcome {
	var params router.ShellParams
	if err := unmarshalParams(decision.Params, &params); err != nil {
		return agentcore.ExecOutcome{OK: false, Reason: err.Error()}
	}
	command, err := execsafety.SanitizeExecutableValue(params.Command)
	if err != nil {
		return agentcore.ExecOutcome{OK: false, Reason: fmt.Sprintf("unsafe command: %v", err)}
	}
	for _, a := range params.Args {
		if !execsafety.IsSafeArgument(a) {
			return agentcore.ExecOutcome{OK: false, Reason: fmt.Sprintf("unsafe argument: %q", a)}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(runCtx, command, params.Args...).CombinedOutput()
	if err != nil {
		return agentcore.ExecOutcome{OK: false, Reason: fmt.Sprintf("%v: %s", err, string(out))}
	}
	return agentcore.ExecOutcome{OK: true, Result: string(out)}
}

func (rt *runtime) execCallMCP(ctx context.Context, decision models.Decision) agentcore.ExecOutcome {
	var params router.CallMCPParams
	if err := unmarshalParams(decision.Params, &params); err != nil {
		return agentcore.ExecOutcome{OK: false, Reason: err.Error()}
	}
	result, err := rt.mcp.CallTool(ctx, params.Server, params.Tool, params.Arguments)
	if err != nil {
		return agentcore.ExecOutcome{OK: false, Reason: err.Error()}
	}
	return agentcore.ExecOutcome{OK: !result.IsError, Result: result.Text}
}

// sloggerAdapter bridges observability.Logger to tree.Logger's minimal
// Errorf contract.
type sloggerAdapter struct{ l *observability.Logger }

func (a sloggerAdapter) Errorf(format string, args ...any) {
	a.l.Error(context.Background(), fmt.Sprintf(format, args...))
}

// tracingMiddleware wraps h so every inbound request opens a span via
// observability.Tracer, grounded on internal/gateway/http_server.go's
// request-logging middleware chain.
func tracingMiddleware(tracer *observability.Tracer, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
		defer span.End()
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func startHTTPServer(cfg *config.Config, bus *eventbus.Bus, logger *observability.Logger, tracer *observability.Tracer) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/ws", eventbus.NewWSPublisher(bus, nil))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	server := &http.Server{Addr: addr, Handler: tracingMiddleware(tracer, mux), ReadHeaderTimeout: 5 * time.Second}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("http listen: %w", err)
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server error", "error", err)
		}
	}()
	return server, nil
}

// unmarshalParams decodes a router.Catalog-validated action's raw JSON
// params into the action's concrete param struct.
func unmarshalParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal action params: %w", err)
	}
	return nil
}
