package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gasScope/internal/model"
)

// CheckpointStore persists the collection cursor between runs and segments.
type CheckpointStore interface {
	Load(ctx context.Context) (model.Checkpoint, bool, error)
	Save(ctx context.Context, cp model.Checkpoint) error
}

// FileCheckpointStore persists checkpoints to disk.
type FileCheckpointStore struct {
	path    string
	enabled bool
}

func NewFileCheckpointStore(path string, enabled bool) *FileCheckpointStore {
	return &FileCheckpointStore{path: path, enabled: enabled && path != ""}
}

func (c *FileCheckpointStore) Load(_ context.Context) (model.Checkpoint, bool, error) {
	if c == nil || !c.enabled {
		return model.Checkpoint{}, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return model.Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}

	return cp, true, nil
}

func (c *FileCheckpointStore) Save(_ context.Context, cp model.Checkpoint) error {
	if c == nil || !c.enabled {
		return nil
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	if cp.UpdatedAt == "" {
		cp.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

// CheckpointStateStore is a database holding named checkpoints.
type CheckpointStateStore interface {
	LoadCheckpoint(ctx context.Context, name string) (model.Checkpoint, bool, error)
	SaveCheckpoint(ctx context.Context, name string, cp model.Checkpoint) error
}

// DBCheckpointStore stores the checkpoint in the indexer_state table.
type DBCheckpointStore struct {
	Store CheckpointStateStore
	Name  string
}

func (s *DBCheckpointStore) Load(ctx context.Context) (model.Checkpoint, bool, error) {
	if s == nil || s.Store == nil {
		return model.Checkpoint{}, false, nil
	}
	return s.Store.LoadCheckpoint(ctx, s.Name)
}

func (s *DBCheckpointStore) Save(ctx context.Context, cp model.Checkpoint) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveCheckpoint(ctx, s.Name, cp)
}

func checkpointOf(progress model.CollectionProgress, scope string) model.Checkpoint {
	return model.Checkpoint{
		Scope:           scope,
		NextBlock:       progress.CurrentBlock,
		ChainHead:       progress.ChainHead,
		EventsCollected: progress.EventsCollected,
		Segment:         progress.Segment,
		UpdatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// CollectionScope identifies a collection by target, token contract and store.
// The zero contract means any token.
func CollectionScope(target, contract common.Address, store string) string {
	token := "any"
	if contract != (common.Address{}) {
		token = strings.ToLower(contract.Hex())
	}
	return fmt.Sprintf("target=%s;contract=%s;store=%s", strings.ToLower(target.Hex()), token, store)
}
