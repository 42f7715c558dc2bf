package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askbase-io/askbase/internal/api/handlers"
	"github.com/askbase-io/askbase/internal/config"
	"github.com/askbase-io/askbase/internal/database"
	"github.com/askbase-io/askbase/internal/domain"
	"github.com/askbase-io/askbase/internal/jobs"
	"github.com/askbase-io/askbase/internal/openai"
	"github.com/askbase-io/askbase/internal/repository"
	"github.com/askbase-io/askbase/internal/server"
	"github.com/askbase-io/askbase/internal/service"
	"github.com/askbase-io/askbase/internal/storage"
	"github.com/askbase-io/askbase/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the askbase API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	sourceRepo := repository.NewSourceRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	var store service.ObjectStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		store = s3Client
	}

	var aiClient *openai.Client
	if cfg.HasOpenAI() {
		aiClient = openai.NewClient(cfg.OpenAIAPIKey)
	}

	var embedder service.EmbeddingClient
	var completer service.CompletionClient
	if aiClient != nil {
		embedder = aiClient
		completer = aiClient
	}

	annotator := service.NewContextAnnotator(completer)
	pipelineCfg := service.DefaultPipelineConfig()
	pipelineCfg.Concurrency = cfg.PipelineConcurrency
	pipeline := service.NewProcessingPipelineWithConfig(annotator, embedder, pipelineCfg)

	ingestionSvc := service.NewIngestionService(sourceRepo, txRunner, pipeline, service.NewPlainTextExtractor(), store)

	clusterCfg := service.DefaultClusterConfig()
	clusterCfg.SimilarityThreshold = float32(cfg.ClusterThreshold)
	clusterCfg.SampleCap = cfg.ClusterSampleCap
	clusterer := service.NewQuestionClustererWithConfig(embedder, clusterCfg)
	insightSvc := service.NewInsightService(questionRepo, clusterer)

	var ingestWorker *jobs.Worker
	if embedder != nil {
		processor := jobs.NewIngestWorker(sourceRepo, ingestionSvc)
		ingestWorker = jobs.NewWorker(processor, cfg.WorkerPollInterval)
		go ingestWorker.Start(ctx)
		log.Println("ingest worker started")
	} else {
		log.Println("no embedding provider configured; sources will stay pending")
	}

	var queryHandler *handlers.QueryHandler
	if embedder != nil {
		queryHandler = handlers.NewQueryHandler(service.NewRetrievalService(chunkRepo, embedder, questionRepo))
	} else {
		queryHandler = handlers.NewQueryHandler(&noOpQueryService{})
	}

	routerCfg := server.RouterConfig{
		APIToken:       cfg.APIToken,
		SourceHandler:  handlers.NewSourceHandler(ingestionSvc),
		QueryHandler:   queryHandler,
		InsightHandler: handlers.NewInsightHandler(insightSvc),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if ingestWorker != nil {
		ingestWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

type noOpQueryService struct{}

func (s *noOpQueryService) Query(ctx context.Context, input service.QueryInput) ([]*service.RetrievedChunk, error) {
	return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "query service not configured: OPENAI_API_KEY required")
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	// Create postgres driver instance
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Create migrate instance with file source
	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// Run migrations
	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Get migration version and status
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
