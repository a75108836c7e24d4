// Command muninn runs the Muninn proxy: it accepts Anthropic Messages API
// requests, routes each one between a direct passthrough and the bounded
// RLM exploration engine, and forwards the chosen path to a configured
// LLM backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/colliery-io/muninn/internal/backend"
	"github.com/colliery-io/muninn/internal/backend/anthropic"
	"github.com/colliery-io/muninn/internal/backend/bedrock"
	"github.com/colliery-io/muninn/internal/backend/openai"
	"github.com/colliery-io/muninn/internal/backend/ratelimit"
	"github.com/colliery-io/muninn/internal/budget"
	"github.com/colliery-io/muninn/internal/engine"
	"github.com/colliery-io/muninn/internal/proxyhttp"
	"github.com/colliery-io/muninn/internal/router"
	"github.com/colliery-io/muninn/internal/telemetry"
	"github.com/colliery-io/muninn/internal/tools"
	"github.com/colliery-io/muninn/internal/tools/builtin"
	"github.com/colliery-io/muninn/internal/trace"
	"github.com/colliery-io/muninn/internal/trace/archive"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		addrF          = flag.String("addr", ":8787", "listen address")
		backendF       = flag.String("backend", "anthropic", "upstream backend: anthropic, openai, or bedrock")
		routerF        = flag.String("router", "heuristic", "routing strategy: always-passthrough, always-rlm, heuristic, or llm")
		routerModelF   = flag.String("router-model", "", "model used by the llm routing strategy (required when -router=llm)")
		concurrencyF   = flag.Int("concurrency", proxyhttp.DefaultConcurrencyLimit, "max concurrent requests admitted at once")
		projectDirF    = flag.String("project-dir", ".", "project root traces and tool calls are scoped to")
		sessionIDF     = flag.String("session-id", "default", "session identifier traces.jsonl is written under")
		redisAddrF     = flag.String("redis-addr", "", "optional Redis address backing the llm strategy's decision cache")
		mongoURIF      = flag.String("mongo-uri", "", "optional MongoDB URI for cross-session trace archival")
		mongoDatabaseF = flag.String("mongo-database", "muninn", "MongoDB database used for trace archival")
		maxDepthF      = flag.Int("max-depth", budget.DefaultMaxDepth, "default max RLM recursion depth")
		maxTokensF     = flag.Int("max-tokens", budget.DefaultMaxTokens, "default max RLM token budget")
		maxToolCallsF  = flag.Int("max-tool-calls", budget.DefaultMaxToolCalls, "default max RLM tool calls")
		maxDurationF   = flag.Int("max-duration-secs", budget.DefaultMaxDurationSecs, "default max RLM wall-clock duration, in seconds")
		rateLimitTPMF  = flag.Float64("rate-limit-tpm", 0, "enable adaptive outbound rate limiting at this initial tokens-per-minute budget (0 disables)")
		rateLimitMaxF  = flag.Float64("rate-limit-max-tpm", 0, "ceiling the adaptive rate limiter probes back up to (defaults to -rate-limit-tpm)")
		dbgF           = flag.Bool("debug", false, "enable debug logging and the /debug/pprof surface")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if err := run(ctx, config{
		addr:            *addrF,
		backendKind:     *backendF,
		routerKind:      *routerF,
		routerModel:     *routerModelF,
		concurrency:     *concurrencyF,
		projectDir:      *projectDirF,
		sessionID:       *sessionIDF,
		redisAddr:       *redisAddrF,
		mongoURI:        *mongoURIF,
		mongoDatabase:   *mongoDatabaseF,
		debug:           *dbgF,
		rateLimitTPM:    *rateLimitTPMF,
		rateLimitMaxTPM: *rateLimitMaxF,
		defaultLimits: budget.Limits{
			MaxDepth:        *maxDepthF,
			MaxTokens:       *maxTokensF,
			MaxToolCalls:    *maxToolCallsF,
			MaxDurationSecs: *maxDurationF,
		},
	}); err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

type config struct {
	addr            string
	backendKind     string
	routerKind      string
	routerModel     string
	concurrency     int
	projectDir      string
	sessionID       string
	redisAddr       string
	mongoURI        string
	mongoDatabase   string
	debug           bool
	rateLimitTPM    float64
	rateLimitMaxTPM float64
	defaultLimits   budget.Limits
}

func run(ctx context.Context, cfg config) error {
	be, err := buildBackend(cfg.backendKind)
	if err != nil {
		return fmt.Errorf("muninn: configure backend: %w", err)
	}
	if cfg.rateLimitTPM > 0 {
		be = ratelimit.New(cfg.rateLimitTPM, cfg.rateLimitMaxTPM).Wrap(be)
	}

	registry := tools.NewRegistry(true)
	root := cfg.projectDir
	for _, t := range []tools.Tool{builtin.ReadFile{Root: root}, builtin.ListDirectory{Root: root}} {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("muninn: register tool: %w", err)
		}
	}

	tel := telemetry.NewClueBundle()

	strategy, err := buildStrategy(ctx, cfg, be, tel)
	if err != nil {
		return fmt.Errorf("muninn: configure router: %w", err)
	}
	rt := router.New(router.Options{Strategy: strategy, CaptureLimit: 2000})

	eng := engine.New(registry, tel)

	sink, closeSink, err := buildTraceSink(cfg)
	if err != nil {
		return fmt.Errorf("muninn: configure trace sink: %w", err)
	}
	defer closeSink()

	srv := proxyhttp.New(proxyhttp.Config{
		Addr:             cfg.addr,
		ConcurrencyLimit: cfg.concurrency,
		Debug:            cfg.debug,
	}, proxyhttp.Deps{
		Backend:       be,
		Router:        rt,
		Engine:        eng,
		DefaultLimits: cfg.defaultLimits,
		TraceSink:     sink,
		Telemetry:     tel,
	})

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return srv.Run(runCtx)
}

func buildBackend(kind string) (backend.Backend, error) {
	switch kind {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for -backend=anthropic")
		}
		return anthropic.NewFromAPIKey(key)
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for -backend=openai")
		}
		return openai.NewFromAPIKey(key)
	case "bedrock":
		return bedrock.NewFromEnv()
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func buildStrategy(ctx context.Context, cfg config, be backend.Backend, tel telemetry.Bundle) (router.Strategy, error) {
	switch cfg.routerKind {
	case "always-passthrough":
		return router.AlwaysPassthrough{}, nil
	case "always-rlm":
		return router.AlwaysRlm{}, nil
	case "heuristic":
		return router.Heuristic{}, nil
	case "llm":
		if cfg.routerModel == "" {
			return nil, fmt.Errorf("-router-model is required for -router=llm")
		}
		var cache router.DecisionCache
		if cfg.redisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return nil, fmt.Errorf("connect to redis at %q: %w", cfg.redisAddr, err)
			}
			cache = router.NewRedisDecisionCache(rdb, "muninn:route:", 10*time.Minute)
		}
		return router.Llm{Backend: be, Model: cfg.routerModel, Cache: cache}, nil
	default:
		return nil, fmt.Errorf("unknown router strategy %q", cfg.routerKind)
	}
}

// buildTraceSink wires the mandatory per-session JSONLWriter, fanning out
// to an optional MongoArchiver when -mongo-uri is set. The returned close
// func flushes and closes whatever file handles were opened; it is always
// non-nil and safe to call even if nothing was opened.
func buildTraceSink(cfg config) (trace.Sink, func(), error) {
	jsonl, err := trace.NewJSONLWriter(cfg.projectDir, cfg.sessionID)
	if err != nil {
		return nil, func() {}, err
	}

	if cfg.mongoURI == "" {
		return jsonl, func() { _ = jsonl.Close() }, nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.mongoURI))
	if err != nil {
		_ = jsonl.Close()
		return nil, func() {}, fmt.Errorf("connect to mongo: %w", err)
	}
	mongoArchiver, err := archive.New(archive.Options{Client: client, Database: cfg.mongoDatabase})
	if err != nil {
		_ = jsonl.Close()
		return nil, func() {}, err
	}

	closeFn := func() {
		_ = jsonl.Close()
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	return trace.MultiSink{jsonl, mongoArchiver}, closeFn, nil
}
