package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/utilitycost/utilitycost/pkg/types"
)

// Store defines the interface for persisting counters, tracker state, and
// settings per device.
type Store interface {
	// Counters
	GetValue(ctx context.Context, deviceID, key string) (float64, bool, error)
	SetValue(ctx context.Context, deviceID, key string, value float64) error
	GetValues(ctx context.Context, deviceID string) (map[string]float64, error)

	// Tracker state
	GetState(ctx context.Context, deviceID string) (types.StoreState, error)
	SetState(ctx context.Context, deviceID string, state types.StoreState) error

	// Settings
	GetSettings(ctx context.Context, deviceID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, deviceID string, settings types.Settings, version int) error

	// Lifecycle
	Close() error
}

// Configured sets up the Store provider based on flags.
func Configured() Store {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: firestore, sqlite, memory)")

	var p struct{ Store }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Store = fs
		case "sqlite":
			if err := sq.Init(); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Store = sq
		case "memory":
			p.Store = NewMemory()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
