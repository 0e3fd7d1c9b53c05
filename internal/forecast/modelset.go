package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spend-forecaster/internal/artifacts"
	"github.com/dvloznov/spend-forecaster/internal/domain"
)

// Mode selects the training unit a model set was built for.
type Mode string

const (
	// ModeUser trains one entity over all of its categories.
	ModeUser Mode = "user"
	// ModeGlobal trains one category over all entities.
	ModeGlobal Mode = "global"
	// ModeAuto uses the entity's own set when it exists, the global one otherwise.
	ModeAuto Mode = "auto"
)

// ParseMode validates a mode string. Empty selects global.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeGlobal, nil
	case ModeUser, ModeGlobal, ModeAuto:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown prediction mode %q", s)
}

const globalPrefix = "GLOBAL"

// UserPrefix names the per-user artifact set for an entity and category.
// The category is used in its canonical form, so every spelling of a label
// resolves to the same set.
func UserPrefix(entityID, category string) string {
	return entityID + "_" + domain.CategoryKey(category)
}

// GlobalPrefix names the global artifact set for a category.
func GlobalPrefix(category string) string {
	return globalPrefix + "_" + domain.CategoryKey(category)
}

const formatVersion = 1

type envelope struct {
	Version int             `json:"version"`
	Kind    artifacts.Kind  `json:"kind"`
	SavedAt time.Time       `json:"saved_at"`
	Payload json.RawMessage `json:"payload"`
}

type entitiesPayload struct {
	Mode     Mode     `json:"mode"`
	Columns  []string `json:"columns"`
	Target   string   `json:"target,omitempty"`
	LookBack int      `json:"look_back"`
	Horizon  int      `json:"horizon"`
}

// ModelSet is everything inference needs for one prefix. Sets are immutable
// once published.
type ModelSet struct {
	Mode         Mode
	Columns      []string // forecaster input columns, in order
	Target       string   // per-user target category
	LookBack     int
	Horizon      int
	Forecaster   *LSTM
	Scaler       *MinMaxScaler
	TargetScaler *MinMaxScaler // per-user only
	Classifier   *Classifier
}

func (s *ModelSet) kinds() []artifacts.Kind {
	kinds := []artifacts.Kind{artifacts.KindForecaster, artifacts.KindScaler, artifacts.KindClassifier, artifacts.KindEntities}
	if s.Mode == ModeUser {
		kinds = append(kinds, artifacts.KindTargetScaler)
	}
	return kinds
}

func (s *ModelSet) validate() error {
	if s.Forecaster == nil || s.Scaler == nil || s.Classifier == nil {
		return fmt.Errorf("model set incomplete: %w", ErrShape)
	}
	if s.Mode == ModeUser && s.TargetScaler == nil {
		return fmt.Errorf("per-user model set without target scaler: %w", ErrShape)
	}
	if s.Forecaster.InputSize != len(s.Columns) || s.Scaler.Width() != len(s.Columns) {
		return fmt.Errorf("model set has %d columns, forecaster %d, scaler %d: %w",
			len(s.Columns), s.Forecaster.InputSize, s.Scaler.Width(), ErrShape)
	}
	return nil
}

func encodeArtifact(kind artifacts.Kind, v any, savedAt time.Time) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", kind, err)
	}
	return json.Marshal(envelope{Version: formatVersion, Kind: kind, SavedAt: savedAt, Payload: payload})
}

func decodeArtifact(kind artifacts.Kind, data []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding %s envelope: %w", kind, err)
	}
	if env.Version != formatVersion {
		return fmt.Errorf("%s has format version %d, want %d", kind, env.Version, formatVersion)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decoding %s: %w", kind, err)
	}
	return nil
}

// Encode serializes the set into one blob per artifact kind.
func (s *ModelSet) Encode(savedAt time.Time) (map[artifacts.Kind][]byte, error) {
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("ModelSet.Encode: %w", err)
	}
	parts := map[artifacts.Kind]any{
		artifacts.KindForecaster: s.Forecaster,
		artifacts.KindScaler:     s.Scaler,
		artifacts.KindClassifier: s.Classifier,
		artifacts.KindEntities: entitiesPayload{
			Mode: s.Mode, Columns: s.Columns, Target: s.Target,
			LookBack: s.LookBack, Horizon: s.Horizon,
		},
	}
	if s.Mode == ModeUser {
		parts[artifacts.KindTargetScaler] = s.TargetScaler
	}

	blobs := make(map[artifacts.Kind][]byte, len(parts))
	for kind, v := range parts {
		data, err := encodeArtifact(kind, v, savedAt)
		if err != nil {
			return nil, fmt.Errorf("ModelSet.Encode: %w", err)
		}
		blobs[kind] = data
	}
	return blobs, nil
}

// DecodeModelSet rebuilds a set from its blobs.
func DecodeModelSet(mode Mode, blobs map[artifacts.Kind][]byte) (*ModelSet, error) {
	var meta entitiesPayload
	if err := decodeArtifact(artifacts.KindEntities, blobs[artifacts.KindEntities], &meta); err != nil {
		return nil, fmt.Errorf("DecodeModelSet: %w", err)
	}
	if meta.Mode != mode {
		return nil, fmt.Errorf("DecodeModelSet: set was trained in %s mode, want %s", meta.Mode, mode)
	}

	s := &ModelSet{
		Mode:       meta.Mode,
		Columns:    meta.Columns,
		Target:     meta.Target,
		LookBack:   meta.LookBack,
		Horizon:    meta.Horizon,
		Forecaster: &LSTM{},
		Scaler:     &MinMaxScaler{},
		Classifier: &Classifier{},
	}
	targets := map[artifacts.Kind]any{
		artifacts.KindForecaster: s.Forecaster,
		artifacts.KindScaler:     s.Scaler,
		artifacts.KindClassifier: s.Classifier,
	}
	if mode == ModeUser {
		s.TargetScaler = &MinMaxScaler{}
		targets[artifacts.KindTargetScaler] = s.TargetScaler
	}
	for kind, v := range targets {
		if err := decodeArtifact(kind, blobs[kind], v); err != nil {
			return nil, fmt.Errorf("DecodeModelSet: %w", err)
		}
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("DecodeModelSet: %w", err)
	}
	return s, nil
}

// SaveModelSet publishes the set atomically under prefix and returns its generation.
func SaveModelSet(ctx context.Context, store artifacts.Store, prefix string, s *ModelSet, savedAt time.Time) (string, error) {
	blobs, err := s.Encode(savedAt)
	if err != nil {
		return "", err
	}
	gen, err := artifacts.Publish(ctx, store, prefix, blobs)
	if err != nil {
		return "", fmt.Errorf("SaveModelSet: %w", err)
	}
	return gen, nil
}

// LoadModelSet reads the current set for prefix. A missing manifest or any
// missing artifact yields an error wrapping ErrNotTrained.
func LoadModelSet(ctx context.Context, store artifacts.Store, prefix string, mode Mode) (*ModelSet, error) {
	probe := &ModelSet{Mode: mode}
	blobs, err := artifacts.Load(ctx, store, prefix, probe.kinds()...)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotTrained, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("LoadModelSet: %w", err)
	}
	return DecodeModelSet(mode, blobs)
}
