// Command bvrag serves the maritime-regulation question-answering API.
//
// Usage:
//
//	bvrag serve
//	bvrag serve --addr :9000 --log-level debug
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/seaworthyhq/bvrag/pkg/config"
	"github.com/seaworthyhq/bvrag/pkg/embedder"
	"github.com/seaworthyhq/bvrag/pkg/generate"
	"github.com/seaworthyhq/bvrag/pkg/graph"
	"github.com/seaworthyhq/bvrag/pkg/knowledge"
	"github.com/seaworthyhq/bvrag/pkg/lexical"
	"github.com/seaworthyhq/bvrag/pkg/llm"
	"github.com/seaworthyhq/bvrag/pkg/logger"
	"github.com/seaworthyhq/bvrag/pkg/memory"
	"github.com/seaworthyhq/bvrag/pkg/observability"
	"github.com/seaworthyhq/bvrag/pkg/pipeline"
	"github.com/seaworthyhq/bvrag/pkg/retrieve"
	"github.com/seaworthyhq/bvrag/pkg/server"
	"github.com/seaworthyhq/bvrag/pkg/utility"
	"github.com/seaworthyhq/bvrag/pkg/vector"
	"github.com/seaworthyhq/bvrag/pkg/voice"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the API server."`

	EnvFile  string `help:"Path to a .env file." default:".env"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(_ *CLI) error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("bvrag version %s\n", version)
	return nil
}

// ServeCmd starts the API server.
type ServeCmd struct {
	Addr string `help:"Listen address, overrides BVRAG_HOST/PORT."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load(cli.EnvFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.InitMetrics(ctx)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	observability.SetGlobalMetrics(metrics)

	provider, err := llm.NewAnthropicProvider(cfg.Models.AnthropicAPIKey, cfg.Timeouts.LLM)
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	emb, err := embedder.NewOpenAIEmbedder(cfg.Models.OpenAIAPIKey, cfg.Models.EmbeddingModel,
		cfg.Models.EmbeddingDimension, cfg.Timeouts.Embedding)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}

	vectorStore, err := vector.NewStore(cfg.Vector, emb, cfg.Timeouts.Embedding)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	defer func() { _ = vectorStore.Close() }()

	lexicalStore, err := lexical.NewStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("lexical store: %w", err)
	}
	defer lexicalStore.Close()

	graphStore, err := graph.NewStore(ctx, cfg.Graph)
	if err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	defer func() { _ = graphStore.Close(context.Background()) }()

	utilityStore := utility.NewStore(lexicalStore.Pool(), cfg.Retrieval.UtilityLearningRate)
	reranker := utility.NewReranker(utilityStore, cfg.Retrieval.UtilityAlpha, cfg.Retrieval.RRFNormCeiling)

	retriever := retrieve.NewRetriever(vectorStore, lexicalStore, graphStore, reranker,
		cfg.Retrieval, cfg.Timeouts.IndexLeg)

	sessionStore, err := memory.NewStore(ctx, cfg.Session.RedisURL, cfg.Session.TTL)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer func() { _ = sessionStore.Close() }()

	contextBuilder := memory.NewContextBuilder(provider, cfg.Models.FastModel,
		cfg.Session.MaxTurns, cfg.Timeouts.Coreference)

	knowledgeIndex, err := knowledge.NewIndex(cfg.Knowledge.Dir)
	if err != nil {
		return fmt.Errorf("knowledge index: %w", err)
	}
	defer func() { _ = knowledgeIndex.Close() }()
	if err := knowledgeIndex.Watch(); err != nil {
		slog.Warn("knowledge hot-reload disabled", "error", err)
	}

	generator := generate.NewGenerator(provider, cfg.Models.PrimaryModel, cfg.Models.FastModel)

	var stt pipeline.Transcriber
	var tts pipeline.Synthesizer
	if cfg.Models.OpenAIAPIKey != "" {
		stt = voice.NewSTTService(cfg.Models.OpenAIAPIKey, cfg.Models.STTModel)
		tts = voice.NewTTSService(cfg.Models.OpenAIAPIKey, cfg.Models.TTSModel, cfg.Models.TTSVoice)
	} else {
		slog.Warn("voice endpoints disabled: OPENAI_API_KEY not set")
	}

	pl := pipeline.New(pipeline.Deps{
		Sessions:  sessionStore,
		Context:   contextBuilder,
		Retriever: retriever,
		Knowledge: knowledgeIndex,
		Generator: generator,
		Utilities: utilityStore,
		STT:       stt,
		TTS:       tts,
	},
		pipeline.WithMaxConcurrent(cfg.Server.MaxConcurrentRequests),
		pipeline.WithLLMTimeout(cfg.Timeouts.LLM),
	)

	addr := c.Addr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	var ttsBackend server.Synthesizer
	if tts != nil {
		ttsBackend = tts
	}
	srv := server.New(server.Deps{
		Pipeline:  pl,
		Retriever: retriever,
		Lexical:   lexicalStore,
		Graph:     graphStore,
		Sessions:  sessionStore,
		Utilities: utilityStore,
		Vector:    vectorStore,
		Knowledge: knowledgeIndex,
		TTS:       ttsBackend,
		Metrics:   metrics,
	}, server.Config{Addr: addr})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("bvrag"),
		kong.Description("Maritime regulation question-answering service."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
