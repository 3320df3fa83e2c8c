// Package localstore is the persistent key-value namespace of one student profile.
// It knows nothing about the key schema; see keycodec for that.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNothingToExport means a snapshot selection matched no keys.
	ErrNothingToExport = errors.New("nothing to export")
	// ErrInvalidSnapshot means an import payload could not be parsed. Nothing was written.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Store is the minimal key-value contract every backend implements.
// Get reports absence with ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Change is one write observed on the namespace.
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
	// Local is true when the write came from this store instance.
	Local bool `json:"-"`
}

// Watcher is implemented by backends that can deliver change notifications,
// including writes made by other clients sharing the namespace.
// The channel is closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// Options selects and configures a backend.
type Options struct {
	Backend       string
	Profile       string
	RedisURL      string
	DatabaseURL   string
	MigrationsDir string
}

// Open constructs the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	profile := strings.TrimSpace(opts.Profile)
	if profile == "" {
		profile = "default"
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(opts.RedisURL, profile)
	case "postgres":
		db, err := openPostgres(ctx, opts.DatabaseURL, opts.MigrationsDir)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(db, profile), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, opts.Backend)
	}
}
