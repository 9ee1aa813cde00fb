package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"allowance/internal/log"
	"allowance/internal/records"
	"allowance/internal/records/memory"
	"allowance/internal/records/remote"
	"allowance/internal/storage"
)

// FixtureFile is the seed document looked up in the data directory.
const FixtureFile = "fixture.json"

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case RemoteBackend:
		return f.createRemoteBackend(config)
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createRemoteBackend(config Config) (*BackendResult, error) {
	client, err := remote.New(remote.Config{
		BaseURL: config.UpstreamAPIURL,
		Timeout: config.UpstreamTimeout,
		Retries: config.UpstreamRetries,
		Logger:  f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upstream client: %w", err)
	}

	f.logger.Info("Initialized remote backend",
		"upstream", config.UpstreamAPIURL,
		"retries", config.UpstreamRetries)

	return &BackendResult{Source: client}, nil
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	auth := records.NewLocalAuth(config.LocalAuthSecret, config.TokenTTL)
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, auth, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	empty, err := repo.Empty(ctx)
	if err != nil {
		repo.Close()
		return nil, err
	}
	seeded := false
	if empty {
		if seeded, err = f.seed(ctx, config.DataDirectory, repo, auth); err != nil {
			repo.Close()
			return nil, err
		}
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"seeded", seeded)

	return &BackendResult{
		Source:  repo,
		Ready:   repo.Ping,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context, config Config) (*BackendResult, error) {
	auth := records.NewLocalAuth(config.LocalAuthSecret, config.TokenTTL)
	store := memory.New(auth)

	seeded, err := f.seed(ctx, config.DataDirectory, store, auth)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Initialized memory backend",
		"data_directory", config.DataDirectory,
		"seeded", seeded)

	return &BackendResult{Source: store}, nil
}

// seed loads the fixture from dataDir into dst. A missing fixture is not an error.
func (f *DefaultFactory) seed(ctx context.Context, dataDir string, dst records.Seeder, auth *records.LocalAuth) (bool, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	path := filepath.Join(dataDir, FixtureFile)
	fixture, err := records.LoadFixture(path)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Warn("No fixture found, starting with an empty ledger", "path", path)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := records.Seed(ctx, fixture, dst, auth, records.NewNormalizer(f.logger)); err != nil {
		return false, fmt.Errorf("seed from %s: %w", path, err)
	}
	return true, nil
}
