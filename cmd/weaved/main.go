// Command weaved is the runtime server: it loads configuration, wires the
// LLM provider, persistence, MCP tools and the pipeline stages into an
// Orchestrator, and serves it over HTTP (spec.md §6, SPEC_FULL.md §6/§9).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"weave/internal/config"
	"weave/internal/httpapi"
	"weave/internal/knowledge"
	"weave/internal/llm"
	"weave/internal/llm/anthropic"
	"weave/internal/llm/google"
	"weave/internal/llm/openai"
	"weave/internal/mcpclient"
	"weave/internal/mcpthread"
	"weave/internal/objectstore"
	"weave/internal/observability"
	"weave/internal/pipeline"
	"weave/internal/stages"
	"weave/internal/store"
	"weave/internal/telemetry"
	"weave/internal/tools"
	"weave/internal/tools/introspection"
	"weave/internal/tools/timer"
	"weave/internal/urlcache"
	"weave/internal/vision"
	"weave/internal/waitstatus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	httpClient := observability.NewHTTPClient(nil)

	provider, model, embedModel := buildProvider(cfg, httpClient)

	registry := tools.NewRegistry()
	registry.Register(introspection.New())
	registry.Register(timer.New())

	mcpManager := mcpclient.NewManager()
	defer mcpManager.Close()
	if err := mcpManager.RegisterFromConfig(ctx, registry, cfg.MCP); err != nil {
		log.Warn().Err(err).Msg("mcp: some servers failed to register, continuing with what loaded")
	}

	checkpointer, err := buildCheckpointer(ctx, cfg.Checkpointer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init checkpointer")
	}

	agents, err := buildAgents(cfg.Runtime.AgentsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load agent registry")
	}

	urlCache, err := urlcache.Open(cfg.Runtime.URLCachePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open url cache")
	}

	visionChain := buildVisionChain(cfg, provider, model)

	knowledgeStore, err := buildKnowledge(ctx, cfg, provider, model, embedModel)
	if err != nil {
		log.Warn().Err(err).Msg("knowledge store disabled")
	}
	if knowledgeStore != nil {
		defer knowledgeStore.Close()
	}

	objStore, err := buildObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		log.Warn().Err(err).Msg("object store disabled")
	}
	if objStore != nil {
		visionChain.Artifacts = objStore
	}

	telemetrySink, err := telemetry.New(ctx, telemetry.Config{
		DSN:            cfg.Telemetry.DSN,
		Table:          cfg.Telemetry.Table,
		TimeoutSeconds: cfg.Telemetry.TimeoutSeconds,
	})
	if err != nil {
		log.Warn().Err(err).Msg("telemetry sink disabled")
	}
	if telemetrySink != nil {
		defer telemetrySink.Close()
	}

	mcpClient := mcpthread.NewClient(registry, selfWakeup(httpClient, cfg.Wakeup.ServerURL))

	var waitTable *waitstatus.Table
	if cfg.Checkpointer.RedisAddr != "" {
		waitTable = waitstatus.NewTable(redis.NewClient(&redis.Options{Addr: cfg.Checkpointer.RedisAddr}))
	}

	knowledgeTopK := cfg.Knowledge.TopK
	orchestrator := &stages.Orchestrator{
		Preprocess:   stages.Preprocess(cfg.Runtime.DefaultActivity),
		Wakeup:       stages.Wakeup(httpClient),
		Tools:        stages.Tools(mcpClient, cfg.Wakeup.ThreadID, cfg.Wakeup.QuickResponseTime),
		Activity:     stages.ActivitySelector(provider, model, agents, waitTable),
		Vision:       stages.Vision(visionChain, urlCache),
		Knowledge:    stages.Knowledge(knowledgeStore, knowledgeTopK),
		Agents:       stages.Agents(provider, registry, agents, model),
		Summarize:    stages.Summarize(provider, model, cfg.History, knowledgeStore),
		Afterthought: stages.Afterthought(),
		Autotools:    stages.Autotools(mcpClient, cfg.Wakeup.ThreadID, cfg.Wakeup.QuickResponseTime),
		Cleanup:      stages.Cleanup(),
		WaitStatus:   waitTable,
	}

	server := httpapi.NewServer(orchestrator, checkpointer, cfg.Wakeup.ThreadID).WithTelemetry(telemetrySink)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: server}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("weaved listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func buildProvider(cfg config.Config, httpClient *http.Client) (llm.Provider, string, string) {
	switch cfg.LLMClient.Provider {
	case "anthropic":
		return anthropic.New(cfg.LLMClient.Anthropic, httpClient), cfg.LLMClient.Anthropic.Model, ""
	case "google":
		c, err := google.New(cfg.LLMClient.Google, httpClient)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init google provider")
		}
		return c, cfg.LLMClient.Google.Model, ""
	default:
		c := openai.New(cfg.LLMClient.OpenAI, httpClient)
		return c, cfg.LLMClient.OpenAI.Model, cfg.LLMClient.OpenAI.EmbeddingModel
	}
}

func buildCheckpointer(ctx context.Context, cfg config.CheckpointerConfig) (pipeline.Checkpointer, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store.NewPostgresCheckpointer(pool), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return store.NewRedisCheckpointer(client, cfg.RedisPrefix), nil
	default:
		return store.NewMemCheckpointer(), nil
	}
}

func buildAgents(path string) (stages.AgentRegistry, error) {
	if path == "" {
		return stages.DefaultAgents(), nil
	}
	return stages.LoadAgents(path)
}

func buildVisionChain(cfg config.Config, provider llm.Provider, model string) *vision.Chain {
	openaiClient, ok := provider.(*openai.Client)
	var images vision.ImageDescriber
	if ok {
		images = &imageDescriber{client: openaiClient, model: model}
	}

	var transcriber vision.Transcriber
	if cfg.Vision.WhisperModelPath != "" {
		w, err := vision.NewWhisperTranscriber(cfg.Vision.WhisperModelPath)
		if err != nil {
			log.Warn().Err(err).Msg("whisper model failed to load, media transcription disabled")
		} else {
			transcriber = w
		}
	}

	summarize := func(ctx context.Context, prompt string) (string, error) {
		resp, err := provider.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, model)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	return vision.NewChain(images, transcriber, summarize)
}

func buildKnowledge(ctx context.Context, cfg config.Config, provider llm.Provider, model, embedModel string) (*knowledge.Store, error) {
	if cfg.Knowledge.Collection == "" {
		return nil, nil
	}
	openaiClient, ok := provider.(*openai.Client)
	if !ok {
		return nil, fmt.Errorf("knowledge store requires the openai provider for embeddings")
	}
	emb := &embedder{client: openaiClient, model: embedModel}
	return knowledge.New(ctx, knowledge.Config{
		Host:       cfg.Knowledge.Host,
		Port:       cfg.Knowledge.Port,
		APIKey:     cfg.Knowledge.APIKey,
		UseTLS:     cfg.Knowledge.UseTLS,
		Collection: cfg.Knowledge.Collection,
		Dimension:  cfg.Knowledge.Dimension,
	}, emb)
}

func buildObjectStore(ctx context.Context, cfg config.ObjectStoreConfig) (*objectstore.Store, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return objectstore.New(client, cfg.Bucket, cfg.Prefix), nil
}
