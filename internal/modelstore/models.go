package modelstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/park285/runenkrieg/internal/bandit"
	"github.com/park285/runenkrieg/internal/chesstrain"
	"github.com/park285/runenkrieg/internal/rktrain"
	"go.uber.org/zap"
)

// Models is the typed view over a Store. A missing key loads as nil.
type Models struct {
	store  Store
	logger *zap.Logger
}

func NewModels(s Store, logger *zap.Logger) *Models {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Models{store: s, logger: logger}
}

func (m *Models) Store() Store { return m.store }

func (m *Models) get(ctx context.Context, key string) ([]byte, error) {
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return raw, nil
}

func (m *Models) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := m.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	m.logger.Info("model_saved", zap.String("key", key), zap.Int("bytes", len(raw)))
	return nil
}

func (m *Models) LoadCardModel(ctx context.Context) (*rktrain.Model, error) {
	raw, err := m.get(ctx, KeyCardModel)
	if raw == nil || err != nil {
		return nil, err
	}
	return rktrain.DecodeModel(raw, m.logger)
}

func (m *Models) SaveCardModel(ctx context.Context, model *rktrain.Model) error {
	return m.put(ctx, KeyCardModel, model)
}

func (m *Models) LoadChessModel(ctx context.Context) (*chesstrain.Model, error) {
	raw, err := m.get(ctx, KeyChessModel)
	if raw == nil || err != nil {
		return nil, err
	}
	return chesstrain.DecodeModel(raw, m.logger)
}

func (m *Models) SaveChessModel(ctx context.Context, model *chesstrain.Model) error {
	return m.put(ctx, KeyChessModel, model)
}

// LoadPolicy restores the persisted bandit into p and reports whether state existed.
func (m *Models) LoadPolicy(ctx context.Context, p *bandit.Policy) (bool, error) {
	raw, err := m.get(ctx, KeyBandit)
	if raw == nil || err != nil {
		return false, err
	}
	var s bandit.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, fmt.Errorf("decode bandit snapshot: %w", err)
	}
	p.Restore(s)
	return true, nil
}

func (m *Models) SavePolicy(ctx context.Context, p *bandit.Policy) error {
	return m.put(ctx, KeyBandit, p.Snapshot())
}

// Export writes the value stored under key to path as indented JSON.
func (m *Models) Export(ctx context.Context, key, path string) error {
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("export %s: %w", key, err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("export %s: stored value is not json: %w", key, err)
	}
	buf.WriteByte('\n')
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Import stores the JSON file at path under key after checking it decodes
// as the model that key holds.
func (m *Models) Import(ctx context.Context, key, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch key {
	case KeyCardModel:
		_, err = rktrain.DecodeModel(raw, m.logger)
	case KeyChessModel:
		_, err = chesstrain.DecodeModel(raw, m.logger)
	case KeyBandit:
		err = json.Unmarshal(raw, &bandit.Snapshot{})
	default:
		if !json.Valid(raw) {
			err = fmt.Errorf("%s is not valid json", path)
		}
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", key, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("import %s: %w", key, err)
	}
	if err := m.store.Set(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("import %s: %w", key, err)
	}
	m.logger.Info("model_imported", zap.String("key", key), zap.String("path", path))
	return nil
}
