// Package storage selects the backend for developer keys and project facts.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pepkit/pephub-sub000/internal/auth/keys"
	"github.com/pepkit/pephub-sub000/internal/config"
	"github.com/pepkit/pephub-sub000/internal/logger"
	"github.com/pepkit/pephub-sub000/internal/projects"
	"github.com/pepkit/pephub-sub000/internal/storage/sqlite"
)

// Stores are the storage collaborators handed to the rest of the app.
type Stores struct {
	fx.Out

	Keys     keys.Store
	Projects projects.Store
}

// New opens the stores selected by cfg. The returned close function releases
// the backend.
func New(ctx context.Context, cfg *config.StorageConfig) (keys.Store, projects.Store, func() error, error) {
	switch cfg.Driver {
	case config.StorageDriverMemory, "":
		logger.Warn("Using in-memory storage; developer keys are lost on restart")
		return keys.NewMemoryStore(), projects.NewMemoryStore(), func() error { return nil }, nil
	case config.StorageDriverSQLite:
		db, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		logger.Info("Opened sqlite storage", zap.String("path", cfg.DSN))
		return sqlite.NewKeyStore(db), sqlite.NewProjectStore(db), db.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// SeedProjects loads the project facts listed in the YAML file at path.
// Projects that already exist are left untouched.
func SeedProjects(ctx context.Context, store projects.Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read projects seed: %w", err)
	}
	var seed struct {
		Projects []projects.Facts `yaml:"projects"`
	}
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse projects seed %s: %w", path, err)
	}

	created := 0
	for _, facts := range seed.Projects {
		if facts.Namespace == "" || facts.Name == "" {
			return created, fmt.Errorf("projects seed %s: namespace and name are required", path)
		}
		if facts.Tag == "" {
			facts.Tag = projects.DefaultTag
		}
		err := store.Create(ctx, facts)
		if errors.Is(err, projects.ErrExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to seed project %s: %w", facts.Ref(), err)
		}
		created++
	}
	return created, nil
}

func provide(lc fx.Lifecycle, cfg *config.StorageConfig) (Stores, error) {
	ctx := context.Background()
	keyStore, projectStore, closeFn, err := New(ctx, cfg)
	if err != nil {
		return Stores{}, err
	}
	lc.Append(fx.StopHook(closeFn))

	if cfg.ProjectsSeed != "" {
		n, err := SeedProjects(ctx, projectStore, cfg.ProjectsSeed)
		if err != nil {
			return Stores{}, err
		}
		logger.Info("Seeded projects", zap.Int("created", n), zap.String("path", cfg.ProjectsSeed))
	}
	return Stores{Keys: keyStore, Projects: projectStore}, nil
}

// Module provides keys.Store and projects.Store.
var Module = fx.Module("storage", fx.Provide(provide))
