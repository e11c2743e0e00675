package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"folhaponto/internal/amqp"
	"folhaponto/internal/log"
	"folhaponto/internal/storage"
	"folhaponto/internal/store"
	"folhaponto/internal/store/memory"
	"folhaponto/internal/store/mongo"
)

const connectTimeout = 15 * time.Second

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch config.Type {
	case MemoryBackend:
		st = memory.New()
		f.logger.Warn("Using the in-memory record store; data is lost on restart")
	case SQLiteBackend:
		st, err = storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	case MongoBackend:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		st, err = mongo.Connect(cctx, config.MongoURI, config.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB store: %w", err)
		}
		f.logger.Info("Initialized MongoDB backend", "database", config.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}

	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			if config.RequireAMQP {
				_ = st.Close()
				return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
			}
			f.logger.Warn("Failed to initialize AMQP client, continuing without event bus", log.FieldError, err)
			amqpClient = nil
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	return &BackendResult{
		Store: st,
		AMQP:  amqpClient,
		Cleanup: func() error {
			var errs []error
			if amqpClient != nil {
				errs = append(errs, amqpClient.Close())
			}
			errs = append(errs, st.Close())
			return errors.Join(errs...)
		},
	}, nil
}
