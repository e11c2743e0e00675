// Package backend builds the record store and the event publisher selected by
// configuration.
package backend

import (
	"context"

	"folhaponto/internal/amqp"
	"folhaponto/internal/store"
)

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// BackendResult holds the record store, the optional AMQP client and a
// cleanup function closing both.
type BackendResult struct {
	Store   store.Store
	AMQP    *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// MongoDB specific
	MongoURI      string
	MongoDatabase string

	// Optional event bus; an empty URL disables it.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	// RequireAMQP turns a failed AMQP connection into an error instead of a
	// warning.
	RequireAMQP bool
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
	MongoBackend  BackendType = "mongo"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, MongoBackend:
		return true
	default:
		return false
	}
}
