package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tathienbao/signal-trader/internal/ledger"
	"github.com/tathienbao/signal-trader/internal/types"
)

// JSONFileStore keeps the ledger as a human-readable JSON document.
type JSONFileStore struct {
	path string
}

// NewJSONFileStore creates a store backed by path.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

// Load reads the ledger file.
func (s *JSONFileStore) Load(_ context.Context) (*ledger.State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", s.path, types.ErrStateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	state := ledger.NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if state.Holdings == nil {
		state.Holdings = []types.Holding{}
	}
	if state.DailyPL == nil {
		state.DailyPL = []types.PlEntry{}
	}

	return state, nil
}

// Save writes the ledger atomically, creating parent directories as needed.
func (s *JSONFileStore) Save(_ context.Context, state *ledger.State) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}

	return nil
}

// Close is a no-op.
func (s *JSONFileStore) Close() error {
	return nil
}
