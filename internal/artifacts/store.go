// Package artifacts persists trained model sets under a string prefix.
//
// A set is published under a fresh generation and becomes visible only when
// the prefix manifest is rewritten to point at it, so readers never observe a
// partially written set.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names one artifact within a set.
type Kind string

const (
	KindForecaster   Kind = "forecaster"
	KindScaler       Kind = "scaler"
	KindTargetScaler Kind = "target_scaler"
	KindClassifier   Kind = "classifier"
	KindEntities     Kind = "entities"

	kindManifest Kind = "manifest"
)

var allKinds = []Kind{KindForecaster, KindScaler, KindTargetScaler, KindClassifier, KindEntities}

// ErrNotFound is returned when a requested artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store is a flat blob store keyed by (prefix, kind).
type Store interface {
	// Get returns the blob, or an error wrapping ErrNotFound.
	Get(ctx context.Context, prefix string, kind Kind) ([]byte, error)

	// Put stores the blob. Implementations must make a single Put atomic.
	Put(ctx context.Context, prefix string, kind Kind, data []byte) error
}

// Deleter is implemented by stores that can remove superseded generations.
type Deleter interface {
	Delete(ctx context.Context, prefix string, kind Kind) error
}

// Manifest points a prefix at its current generation.
type Manifest struct {
	Generation string    `json:"generation"`
	Previous   string    `json:"previous,omitempty"`
	Kinds      []Kind    `json:"kinds"`
	CreatedAt  time.Time `json:"created_at"`
}

func generationPrefix(prefix, generation string) string {
	return prefix + "@" + generation
}

// ReadManifest returns the manifest for prefix.
func ReadManifest(ctx context.Context, s Store, prefix string) (*Manifest, error) {
	data, err := s.Get(ctx, prefix, kindManifest)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("ReadManifest: decoding %s: %w", prefix, err)
	}
	if m.Generation == "" {
		return nil, fmt.Errorf("ReadManifest: %s has no generation: %w", prefix, ErrNotFound)
	}
	return &m, nil
}

// Publish writes every blob under a new generation and then flips the manifest.
// The generation before the replaced one is pruned when the store supports it;
// the replaced generation itself is kept for readers that resolved it already.
func Publish(ctx context.Context, s Store, prefix string, blobs map[Kind][]byte) (string, error) {
	if len(blobs) == 0 {
		return "", fmt.Errorf("Publish: no artifacts for %s", prefix)
	}

	var previous, stale string
	if old, err := ReadManifest(ctx, s, prefix); err == nil {
		previous, stale = old.Generation, old.Previous
	} else if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("Publish: reading manifest: %w", err)
	}

	generation := uuid.New().String()
	genPrefix := generationPrefix(prefix, generation)

	kinds := make([]Kind, 0, len(blobs))
	for kind, data := range blobs {
		if err := s.Put(ctx, genPrefix, kind, data); err != nil {
			return "", fmt.Errorf("Publish: writing %s/%s: %w", prefix, kind, err)
		}
		kinds = append(kinds, kind)
	}

	manifest, err := json.Marshal(Manifest{
		Generation: generation,
		Previous:   previous,
		Kinds:      kinds,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("Publish: encoding manifest: %w", err)
	}
	if err := s.Put(ctx, prefix, kindManifest, manifest); err != nil {
		return "", fmt.Errorf("Publish: writing manifest: %w", err)
	}

	if d, ok := s.(Deleter); ok && stale != "" {
		for _, kind := range allKinds {
			if err := d.Delete(ctx, generationPrefix(prefix, stale), kind); err != nil && !errors.Is(err, ErrNotFound) {
				return generation, fmt.Errorf("Publish: pruning generation %s: %w", stale, err)
			}
		}
	}

	return generation, nil
}

// Load resolves the current generation of prefix and reads every requested kind.
// A missing manifest or any missing kind yields an error wrapping ErrNotFound.
func Load(ctx context.Context, s Store, prefix string, kinds ...Kind) (map[Kind][]byte, error) {
	m, err := ReadManifest(ctx, s, prefix)
	if err != nil {
		return nil, fmt.Errorf("Load: %s: %w", prefix, err)
	}

	genPrefix := generationPrefix(prefix, m.Generation)
	out := make(map[Kind][]byte, len(kinds))
	for _, kind := range kinds {
		data, err := s.Get(ctx, genPrefix, kind)
		if err != nil {
			return nil, fmt.Errorf("Load: %s/%s: %w", prefix, kind, err)
		}
		out[kind] = data
	}
	return out, nil
}
