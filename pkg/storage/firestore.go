package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/utilitycost/utilitycost/pkg/log"
	"github.com/utilitycost/utilitycost/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements the Store interface using Google Cloud Firestore.
// Counters live in devices/{id}/counters, tracker state and settings in
// devices/{id}/config.
type FirestoreStore struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore store.
// It registers flags for configuration.
func configuredFirestore() *FirestoreStore {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreStore{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the store methods.
func (f *FirestoreStore) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreStore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreStore) getCollection(deviceID, name string) (*firestore.CollectionRef, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID cannot be empty")
	}
	return f.client.Collection("devices").Doc(deviceID).Collection(name), nil
}

// GetValue retrieves a single counter value.
func (f *FirestoreStore) GetValue(ctx context.Context, deviceID, key string) (float64, bool, error) {
	coll, err := f.getCollection(deviceID, "counters")
	if err != nil {
		return 0, false, err
	}
	doc, err := coll.Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to fetch counter %s: %w", key, err)
	}
	val, err := doc.DataAt("value")
	if err != nil {
		return 0, false, fmt.Errorf("counter %s missing 'value' field: %w", key, err)
	}
	v, ok := val.(float64)
	if !ok {
		return 0, false, fmt.Errorf("counter %s 'value' field is not a number", key)
	}
	return v, true, nil
}

// SetValue stores a single counter value.
func (f *FirestoreStore) SetValue(ctx context.Context, deviceID, key string, value float64) error {
	coll, err := f.getCollection(deviceID, "counters")
	if err != nil {
		return err
	}
	_, err = coll.Doc(key).Set(ctx, map[string]interface{}{
		"value": value,
	})
	if err != nil {
		return fmt.Errorf("failed to save counter %s: %w", key, err)
	}
	return nil
}

// GetValues retrieves all counter values for a device.
func (f *FirestoreStore) GetValues(ctx context.Context, deviceID string) (map[string]float64, error) {
	coll, err := f.getCollection(deviceID, "counters")
	if err != nil {
		return nil, err
	}
	iter := coll.Documents(ctx)
	defer iter.Stop()

	values := map[string]float64{}
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating counters: %w", err)
		}

		val, err := doc.DataAt("value")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "counter doc missing value", slog.String("key", doc.Ref.ID), slog.String("deviceID", deviceID))
			continue
		}
		v, ok := val.(float64)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "counter doc value not a number", slog.String("key", doc.Ref.ID), slog.String("deviceID", deviceID))
			continue
		}
		values[doc.Ref.ID] = v
	}
	return values, nil
}

// GetState retrieves the tracker state from the "config/state" document.
func (f *FirestoreStore) GetState(ctx context.Context, deviceID string) (types.StoreState, error) {
	coll, err := f.getCollection(deviceID, "config")
	if err != nil {
		return types.StoreState{}, err
	}
	doc, err := coll.Doc("state").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.StoreState{}, nil
		}
		return types.StoreState{}, fmt.Errorf("failed to fetch state doc: %w", err)
	}

	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "state doc malformed", slog.String("deviceID", deviceID), slog.Any("err", err))
		return types.StoreState{}, err
	}

	var s types.StoreState
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal state json", slog.String("deviceID", deviceID), slog.Any("err", err))
		return types.StoreState{}, fmt.Errorf("failed to unmarshal state json: %w", err)
	}
	return s, nil
}

// SetState saves the tracker state to the "config/state" document.
// It stores the state as a JSON string for portability.
func (f *FirestoreStore) SetState(ctx context.Context, deviceID string, state types.StoreState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	coll, err := f.getCollection(deviceID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("state").Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// GetSettings retrieves the tariff configuration from the "config/settings" document.
func (f *FirestoreStore) GetSettings(ctx context.Context, deviceID string) (types.Settings, int, error) {
	coll, err := f.getCollection(deviceID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	doc, err := coll.Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc malformed", slog.String("deviceID", deviceID), slog.Any("err", err))
		return types.Settings{}, 0, err
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.String("deviceID", deviceID), slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the tariff configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreStore) SetSettings(ctx context.Context, deviceID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(deviceID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func docJSON(doc *firestore.DocumentSnapshot) (string, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return "", fmt.Errorf("document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("document 'json' field is not a string")
	}
	return jsonStr, nil
}
