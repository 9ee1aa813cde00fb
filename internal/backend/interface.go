package backend

import (
	"context"
	"time"

	"allowance/internal/records"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult is the record source chosen by configuration.
type BackendResult struct {
	Source records.Source
	// Ready reports whether the source can serve requests. Nil means always ready.
	Ready   func(ctx context.Context) error
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type Config struct {
	Type BackendType

	// Remote
	UpstreamAPIURL  string
	UpstreamTimeout time.Duration
	UpstreamRetries int

	// SQLite
	SQLiteDBPath string

	// Local backends (sqlite, memory)
	DataDirectory   string
	LocalAuthSecret string
	TokenTTL        time.Duration
}

type BackendType string

const (
	RemoteBackend BackendType = "remote"
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case RemoteBackend, SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
