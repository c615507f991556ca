package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"koffers/internal/domain/account"
	"koffers/internal/domain/connection"
	"koffers/internal/domain/notification"
	"koffers/internal/domain/openfinance"
	"koffers/internal/domain/receipt"
	"koffers/internal/infrastructure/crypto"
	"koffers/internal/infrastructure/firebase"
	"koffers/internal/infrastructure/ocr"
	ofclient "koffers/internal/infrastructure/openfinance"
	"koffers/internal/infrastructure/postgres"
	"koffers/internal/infrastructure/postgres/listener"
	httphandlers "koffers/internal/interfaces/http"
	"koffers/internal/interfaces/scheduler"
	"koffers/internal/shared/auth"
	"koffers/internal/shared/config"
	"koffers/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	WebhookHandler      *httphandlers.WebhookHandler
	ConnectionHandler   *httphandlers.ConnectionHandler
	AccountHandler      *httphandlers.AccountHandler
	TransactionHandler  *httphandlers.TransactionHandler
	ReceiptHandler      *httphandlers.ReceiptHandler
	NotificationHandler *httphandlers.NotificationHandler

	// Auth
	JWT *auth.JWT

	// Background work
	WorkerPool      *scheduler.WorkerPool
	Scheduler       *scheduler.Scheduler
	ReceiptListener *listener.ReceiptListener
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	deps, err := wire(ctx, cfg, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return deps, nil
}

func wire(ctx context.Context, cfg *config.Config, db *postgres.DB, log *zap.Logger) (*Dependencies, error) {
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}

	// Repositories
	connectionRepo := postgres.NewConnectionRepository(db, encryptor)
	cursorRepo := postgres.NewCursorRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	receiptRepo := postgres.NewReceiptRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	texts, err := messages.Load(cfg.Messages.Path)
	if err != nil {
		log.Warn("using default notification texts", zap.Error(err))
	}

	// Firebase is optional in development. Without it pushes are only
	// stored and receipts stay pending.
	var (
		messenger notification.Messenger
		blobs     receipt.BlobStore
	)
	if cfg.Firebase.CredentialsFile != "" || cfg.Firebase.StorageBucket != "" {
		app, err := firebase.NewApp(ctx, cfg.Firebase.CredentialsFile, cfg.Firebase.StorageBucket)
		if err != nil {
			return nil, err
		}
		fcm, err := firebase.NewClient(ctx, app, notificationRepo.DeactivateToken, log.Named("fcm"))
		if err != nil {
			return nil, err
		}
		messenger = fcm
		if cfg.Firebase.StorageBucket != "" {
			store, err := firebase.NewStorage(ctx, app)
			if err != nil {
				return nil, err
			}
			blobs = store
		}
	} else {
		log.Warn("firebase is not configured; push delivery and receipt downloads are disabled")
	}

	var extractor receipt.Extractor
	switch {
	case !cfg.OCR.Enabled:
		log.Info("receipt extraction disabled")
	case cfg.OCR.APIKey == "":
		log.Warn("GEMINI_API_KEY is not set; receipt extraction disabled")
	default:
		ex, err := ocr.NewExtractor(ctx, cfg.OCR.APIKey, cfg.OCR.Model, log.Named("ocr"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize receipt extractor: %w", err)
		}
		extractor = ex
	}

	// Domain services
	notificationService := notification.NewService(notificationRepo, messenger, texts, log.Named("notification"))
	connectionService := connection.NewService(connectionRepo, notificationService, log.Named("connection"))
	accountService := account.NewService(accountRepo)

	retry := openfinance.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Provider.MaxRetries
	retry.BaseDelay = cfg.Provider.RetryBaseDelay
	retry.MaxDelay = cfg.Provider.RetryMaxDelay

	syncLog := log.Named("sync")
	client := ofclient.NewClient(cfg.Provider.BaseURL, cfg.Provider.ClientID, cfg.Provider.Secret)
	accountSync := openfinance.NewAccountSyncService(client, connectionService, accountService, retry, syncLog)
	transactionSync := openfinance.NewTransactionSyncService(client, connectionService, accountRepo, transactionRepo,
		openfinance.NewCursorStore(cursorRepo), retry, cfg.Provider.PageSize, syncLog)
	windowSync := openfinance.NewWindowSyncService(client, connectionService, accountRepo, transactionRepo,
		retry, cfg.Provider.PageSize, syncLog)
	connectionSync := openfinance.NewConnectionSyncService(connectionService, accountSync, transactionSync, syncLog)
	dispatcher := openfinance.NewWebhookDispatcher(connectionService, connectionSync, windowSync, log.Named("webhook"))

	receiptLog := log.Named("receipt")
	matcher := receipt.NewMatcher(receiptRepo, transactionRepo, notificationService, receiptLog)
	pipeline := receipt.NewPipeline(receiptRepo, blobs, extractor, matcher, notificationService, receiptLog)

	// Background work. The pool serves both scheduled syncs and uploads.
	pool := scheduler.NewWorkerPool(cfg.Scheduler.WorkerCount, cfg.Scheduler.JobDelay, cfg.Scheduler.QueueSize, log)

	jobLog := log.Named("jobs")
	jobs := scheduler.SyncJobProvider(connectionService, connectionSync, matcher, jobLog)
	// Stale uploads are only worth re-enqueueing when they can be extracted.
	if blobs != nil && extractor != nil {
		jobs = scheduler.CombineProviders(jobs,
			scheduler.PendingReceiptJobProvider(receiptRepo, pipeline, cfg.Scheduler.PendingReceiptAge, jobLog))
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(pool, scheduler.Config{
			ScheduleTimes: cfg.Scheduler.ScheduleTimes,
			RunOnStartup:  cfg.Scheduler.RunOnStartup,
			JobProvider:   jobs,
		}, log)
		if err != nil {
			return nil, err
		}
	}

	receiptListener := listener.NewReceiptListener(cfg.Database.ConnectionString(), func(ctx context.Context, ev listener.ReceiptUploaded) {
		if err := pool.Submit(scheduler.NewReceiptProcessJob(ev.ReceiptID, ev.UserID, pipeline, jobLog)); err != nil {
			jobLog.Warn("failed to enqueue receipt", zap.String("receipt_id", ev.ReceiptID), zap.Error(err))
		}
	}, log)

	return &Dependencies{
		DB:                  db,
		WebhookHandler:      httphandlers.NewWebhookHandler(dispatcher, cfg.Provider.WebhookSecret, log),
		ConnectionHandler:   httphandlers.NewConnectionHandler(connectionService, connectionSync, log),
		AccountHandler:      httphandlers.NewAccountHandler(accountService, log),
		TransactionHandler:  httphandlers.NewTransactionHandler(matcher, matcher.DateToleranceDays, log),
		ReceiptHandler:      httphandlers.NewReceiptHandler(pipeline, matcher, log),
		NotificationHandler: httphandlers.NewNotificationHandler(notificationService, log),
		JWT:                 auth.NewJWT(cfg.Auth.JWTSecret),
		WorkerPool:          pool,
		Scheduler:           sched,
		ReceiptListener:     receiptListener,
	}, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
