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
	"koffers/internal/shared/config"
	"koffers/internal/shared/logger"
	"koffers/internal/shared/messages"
)

// app holds what the admin commands need. Push delivery is left out:
// notifications raised by admin runs are stored but not sent.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *postgres.DB

	connections    *connection.Service
	connectionRepo connection.Repository
	receipts       receipt.Repository
	connectionSync *openfinance.ConnectionSyncService
	windowSync     *openfinance.WindowSyncService
	matcher        *receipt.Matcher
	pipeline       *receipt.Pipeline
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Environment, cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openDB connects and applies pending migrations.
func openDB(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a, err := wireApp(ctx, cfg, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func wireApp(ctx context.Context, cfg *config.Config, db *postgres.DB, log *zap.Logger) (*app, error) {
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, err
	}

	connectionRepo := postgres.NewConnectionRepository(db, encryptor)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)
	receiptRepo := postgres.NewReceiptRepository(db)
	notificationRepo := postgres.NewNotificationRepository(db)

	texts, err := messages.Load(cfg.Messages.Path)
	if err != nil {
		log.Debug("using default notification texts", zap.Error(err))
	}
	notifications := notification.NewService(notificationRepo, nil, texts, log)
	connections := connection.NewService(connectionRepo, notifications, log)

	retry := openfinance.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Provider.MaxRetries
	retry.BaseDelay = cfg.Provider.RetryBaseDelay
	retry.MaxDelay = cfg.Provider.RetryMaxDelay

	client := ofclient.NewClient(cfg.Provider.BaseURL, cfg.Provider.ClientID, cfg.Provider.Secret)
	accountSync := openfinance.NewAccountSyncService(client, connections, account.NewService(accountRepo), retry, log)
	txSync := openfinance.NewTransactionSyncService(client, connections, accountRepo, transactionRepo,
		openfinance.NewCursorStore(postgres.NewCursorRepository(db)), retry, cfg.Provider.PageSize, log)

	var blobs receipt.BlobStore
	if cfg.Firebase.StorageBucket != "" {
		fbApp, err := firebase.NewApp(ctx, cfg.Firebase.CredentialsFile, cfg.Firebase.StorageBucket)
		if err != nil {
			return nil, err
		}
		store, err := firebase.NewStorage(ctx, fbApp)
		if err != nil {
			return nil, err
		}
		blobs = store
	}
	var extractor receipt.Extractor
	if cfg.OCR.Enabled && cfg.OCR.APIKey != "" {
		ex, err := ocr.NewExtractor(ctx, cfg.OCR.APIKey, cfg.OCR.Model, log)
		if err != nil {
			return nil, err
		}
		extractor = ex
	}
	matcher := receipt.NewMatcher(receiptRepo, transactionRepo, notifications, log)

	return &app{
		cfg:            cfg,
		log:            log,
		db:             db,
		connections:    connections,
		connectionRepo: connectionRepo,
		receipts:       receiptRepo,
		connectionSync: openfinance.NewConnectionSyncService(connections, accountSync, txSync, log),
		windowSync:     openfinance.NewWindowSyncService(client, connections, accountRepo, transactionRepo, retry, cfg.Provider.PageSize, log),
		matcher:        matcher,
		pipeline:       receipt.NewPipeline(receiptRepo, blobs, extractor, matcher, notifications, log),
	}, nil
}

func (a *app) Close() {
	a.log.Sync()
	a.db.Close()
}
