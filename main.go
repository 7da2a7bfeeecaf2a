package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"citeline/api"
	"citeline/config"
	"citeline/database"
	"citeline/embeddings"
	"citeline/evidence"
	"citeline/ingestion"
	"citeline/knowledge"
	"citeline/llm"
	"citeline/pipeline"
	"citeline/retrieval"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "ingest":
		ingestCmd(cfg, logger, os.Args[2:])
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// deps holds the shared wiring for every command.
type deps struct {
	pool   *pgxpool.Pool
	graph  *knowledge.Graph
	close  func(context.Context)
	logger *zap.Logger
}

func connect(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}

	var graph *knowledge.Graph
	closeFns := []func(context.Context){func(context.Context) { pool.Close() }}

	// The knowledge graph is optional; without a URI everything runs on
	// Postgres alone.
	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("neo4j connection: %w", err)
		}
		graph = knowledge.NewGraph(driver)
		closeFns = append(closeFns, func(cctx context.Context) { _ = driver.Close(cctx) })
	}

	return &deps{
		pool:  pool,
		graph: graph,
		close: func(cctx context.Context) {
			for i := len(closeFns) - 1; i >= 0; i-- {
				closeFns[i](cctx)
			}
		},
		logger: logger,
	}, nil
}

func buildOrchestrator(cfg config.Config, d *deps) (*pipeline.Orchestrator, error) {
	embedder, err := embeddings.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	generator, err := llm.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	store := retrieval.NewPostgresChunkStore(d.pool, d.logger)
	retriever := retrieval.NewRetriever(store, embedder, d.logger)
	sessions := pipeline.NewPostgresSessionStore(d.pool)

	opts := pipeline.Options{
		Retrieval: retrieval.Options{
			Threshold: cfg.RetrievalThreshold,
			Limit:     cfg.RetrievalLimit,
		},
		TokenBudget:       cfg.TokenBudget,
		MaxRevisionCycles: cfg.MaxRevisionCycles,
	}
	return pipeline.New(retriever, generator, sessions, pipeline.NewCancelRegistry(), d.logger, opts), nil
}

func ingestCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	workspace := flags.String("workspace", "default", "workspace to ingest into")
	dataDir := flags.String("dir", cfg.DataDir, "directory containing documents (.md, .txt, .pdf)")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse ingest flags", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer d.close(context.Background())

	embedder, err := embeddings.New(cfg)
	if err != nil {
		logger.Fatal("embedder setup", zap.Error(err))
	}

	svc := ingestion.NewService(d.pool, d.graph, embedder, logger, cfg.Embeddings.Dimension)
	logger.Info("ingesting documents",
		zap.String("workspace", *workspace),
		zap.String("dir", *dataDir),
		zap.String("embeddings", cfg.Embeddings.Provider+"/"+cfg.Embeddings.Model))

	if err := svc.IngestDirectory(ctx, *workspace, *dataDir); err != nil {
		logger.Fatal("ingestion failed", zap.Error(err))
	}
}

func askCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	workspace := flags.String("workspace", "default", "workspace to query")
	query := flags.String("query", "", "question to answer from the workspace documents")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse ask flags", zap.Error(err))
	}
	if strings.TrimSpace(*query) == "" {
		logger.Fatal("ask requires -query")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer d.close(context.Background())

	orch, err := buildOrchestrator(cfg, d)
	if err != nil {
		logger.Fatal("pipeline setup", zap.Error(err))
	}

	sink := func(ev pipeline.Event) error {
		switch ev.Type {
		case pipeline.EventContentChunk:
			fmt.Print(ev.Delta)
		case pipeline.EventRevisionStarted:
			fmt.Printf("\n\n[revising draft, cycle %d]\n\n", ev.Cycle)
		case pipeline.EventGenerationComplete:
			fmt.Println()
			printLedger(ev.Ledger, ev.Metrics)
		case pipeline.EventError:
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Message)
		case pipeline.EventCancelled:
			fmt.Fprintln(os.Stderr, "\ncancelled")
		}
		return nil
	}

	req := pipeline.Request{WorkspaceID: *workspace, Query: *query}
	if err := orch.Run(ctx, req, sink); err != nil {
		os.Exit(1)
	}
}

func printLedger(led *evidence.Ledger, metrics *pipeline.Metrics) {
	if led == nil {
		return
	}
	fmt.Println("\nEvidence ledger:")
	for _, claim := range led.Entries {
		fmt.Printf("  [%s] %s (%.2f)\n", claim.Verdict, claim.Text, claim.Confidence)
	}
	for _, flag := range led.RiskFlags {
		fmt.Printf("  risk(%s): %s\n", flag.Severity, flag.Type)
	}
	if metrics != nil {
		fmt.Printf("\n%d claims, %.0f%% coverage, %d revision cycle(s), %dms\n",
			metrics.TotalClaims, metrics.EvidenceCoverage*100, metrics.RevisionCycles, metrics.ProcessingMillis)
	}
}

func serveCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "listen address")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse serve flags", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer d.close(context.Background())

	if err := database.EnsureSchema(ctx, d.pool, cfg.Embeddings.Dimension); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	orch, err := buildOrchestrator(cfg, d)
	if err != nil {
		logger.Fatal("pipeline setup", zap.Error(err))
	}

	embedder, err := embeddings.New(cfg)
	if err != nil {
		logger.Fatal("embedder setup", zap.Error(err))
	}
	svc := ingestion.NewService(d.pool, d.graph, embedder, logger, cfg.Embeddings.Dimension)

	server := &http.Server{
		Addr:              *addr,
		Handler:           api.New(cfg, logger, orch, svc, d.graph, d.pool),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", *addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}

func clearCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	workspace := flags.String("workspace", "default", "workspace to clear")
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse clear flags", zap.Error(err))
	}

	if !*confirmed {
		fmt.Printf("This permanently deletes all documents in workspace %q. Continue? [y/N]: ", *workspace)
		var answer string
		if _, err := fmt.Scanln(&answer); err != nil {
			fmt.Println("clear aborted")
			return
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer d.close(context.Background())

	svc := ingestion.NewService(d.pool, d.graph, nil, logger, cfg.Embeddings.Dimension)
	if err := svc.Clear(ctx, *workspace); err != nil {
		logger.Fatal("clear failed", zap.Error(err))
	}
	logger.Info("workspace cleared", zap.String("workspace", *workspace))
}

func printUsage() {
	fmt.Println("Usage: citeline <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  ingest   Ingest documents from a directory into a workspace")
	fmt.Println("  ask      Answer a question with citation-verified output")
	fmt.Println("  serve    Run the HTTP API")
	fmt.Println("  clear    Delete all documents in a workspace")
}
