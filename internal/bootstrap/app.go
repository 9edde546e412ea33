package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"docscan-backend/internal/analysis"
	"docscan-backend/internal/backend/remote"
	"docscan-backend/internal/backend/stub"
	"docscan-backend/internal/credentials"
	"docscan-backend/internal/documents"
	"docscan-backend/internal/history"
	"docscan-backend/internal/queue"
	"docscan-backend/internal/services/health"
	"docscan-backend/internal/shared/config"
	"docscan-backend/internal/shared/server"
	"docscan-backend/internal/shared/storage/db"
	"docscan-backend/internal/shared/storage/object"
	localstore "docscan-backend/internal/shared/storage/object/local"
	s3store "docscan-backend/internal/shared/storage/object/s3"
	"docscan-backend/internal/workerproc"
)

// App holds the process-wide dependencies. There is exactly one Coordinator
// per process; every entry point shares it.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Store            object.ObjectStore
	Queue            queue.Client
	Backend          analysis.Backend
	Coordinator      *analysis.Coordinator
	HistoryRepo      history.Repo
	DocumentsService *documents.Service
	DocumentsHandler *documents.Handler
	AnalysisHandler  *analysis.Handler
	HistoryHandler   *history.Handler
	JobsHandler      *queue.Handler
	Runner           *workerproc.Runner
}

// Build prepares dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		DB:      sqlDB,
		Store:   store,
		Queue:   queueClient,
		Backend: backend,
	}
	buildServices(app)

	var pinger health.Pinger
	if app.DB != nil {
		pinger = app.DB
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		Health:          health.NewService(pinger, app.Coordinator.IsAnalyzing),
		DocumentHandler: app.DocumentsHandler,
		AnalysisHandler: app.AnalysisHandler,
		HistoryHandler:  app.HistoryHandler,
		JobsHandler:     app.JobsHandler,
	})
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if config.IsDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		sqlDB, err = db.Shared(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultLambdaOptions()))
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	}
	if err == nil {
		err = db.RunMigrations(ctx, sqlDB)
	}
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			log.Printf("bootstrap: database unavailable; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
}

func buildBackend(cfg config.Config) (analysis.Backend, error) {
	if cfg.Backend != "remote" {
		return stub.New(cfg.StubDelay), nil
	}
	client, err := credentials.Load(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	if !client.Complete() {
		log.Printf("bootstrap: remote backend credentials incomplete (file %q)", cfg.CredentialsFile)
	}
	return remote.New(remote.Config{
		APIURL:       cfg.BackendAPIURL,
		TokenURL:     cfg.BackendAuthURL,
		ClientID:     client.ID,
		ClientSecret: client.Secret,
		ClientDomain: client.Domain,
		PollInterval: cfg.PollInterval,
	})
}

func buildServices(app *App) {
	var docRepo documents.Repo
	var historyRepo history.Repo
	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		historyRepo = &history.PGRepo{DB: app.DB}
	} else {
		docRepo = documents.NewMemoryRepo()
		historyRepo = history.NewMemoryRepo()
	}

	opts := []analysis.Option{analysis.WithLifecycle(history.NewRecorder(historyRepo))}
	if app.Config.AnalysisTimeout > 0 {
		opts = append(opts, analysis.WithTimeout(app.Config.AnalysisTimeout))
	}
	coord := analysis.NewCoordinator(app.Backend, opts...)

	docSvc := &documents.Service{
		Store:    app.Store,
		Repo:     docRepo,
		Provider: app.Config.ObjectStoreType,
	}
	docHandler := documents.NewHandler(docSvc)

	app.Coordinator = coord
	app.HistoryRepo = historyRepo
	app.DocumentsService = docSvc
	app.DocumentsHandler = docHandler
	app.AnalysisHandler = analysis.NewHandler(coord, docHandler, app.Config.EventBuffer)
	app.HistoryHandler = history.NewHandler(historyRepo)
	app.JobsHandler = queue.NewHandler(app.Queue, docHandler)
	app.Runner = &workerproc.Runner{Docs: docSvc, Coord: coord}
}
