package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasScope/internal/model"
)

func TestLocalSupervisorStallDetection(t *testing.T) {
	now := time.Unix(1710000000, 0)
	sup := NewLocalSupervisor(nil)
	sup.now = func() time.Time { return now }
	sup.Beat()

	assert.False(t, sup.Stalled(time.Minute), "idle runs never stall")

	sup.Heartbeat(model.CollectionProgress{State: model.StateScanning, CurrentBlock: 10})
	now = now.Add(30 * time.Second)
	assert.False(t, sup.Stalled(time.Minute))

	now = now.Add(time.Minute)
	assert.True(t, sup.Stalled(time.Minute))

	sup.Beat()
	assert.False(t, sup.Stalled(time.Minute))
	assert.Equal(t, uint64(10), sup.Progress().CurrentBlock)

	sup.Heartbeat(model.CollectionProgress{State: model.StateCompleted})
	now = now.Add(time.Hour)
	assert.False(t, sup.Stalled(time.Minute), "finished runs never stall")
}

func TestLocalSupervisorStop(t *testing.T) {
	sup := NewLocalSupervisor(nil)
	assert.False(t, sup.StopRequested())
	sup.RequestStop()
	assert.True(t, sup.StopRequested())
}

func TestFileCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	store := NewFileCheckpointStore(path, true)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, model.Checkpoint{NextBlock: 400, ChainHead: 1000, EventsCollected: 7, Segment: 1}))

	cp, ok, err := NewFileCheckpointStore(path, true).Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(400), cp.NextBlock)
	assert.Equal(t, uint64(1000), cp.ChainHead)
	assert.Equal(t, uint64(7), cp.EventsCollected)
	assert.Equal(t, 1, cp.Segment)
	assert.NotEmpty(t, cp.UpdatedAt)
}

func TestFileCheckpointStoreDisabled(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileCheckpointStore(path, false)

	require.NoError(t, store.Save(ctx, model.Checkpoint{NextBlock: 1}))
	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileCheckpointStoreRejectsDirectory(t *testing.T) {
	_, _, err := NewFileCheckpointStore(t.TempDir(), true).Load(context.Background())
	assert.Error(t, err)
}

type namedCheckpoints map[string]model.Checkpoint

func (n namedCheckpoints) LoadCheckpoint(_ context.Context, name string) (model.Checkpoint, bool, error) {
	cp, ok := n[name]
	return cp, ok, nil
}

func (n namedCheckpoints) SaveCheckpoint(_ context.Context, name string, cp model.Checkpoint) error {
	n[name] = cp
	return nil
}

func TestDBCheckpointStoreUsesName(t *testing.T) {
	ctx := context.Background()
	db := namedCheckpoints{}
	store := &DBCheckpointStore{Store: db, Name: "collect:0xaa"}

	require.NoError(t, store.Save(ctx, model.Checkpoint{NextBlock: 42}))
	assert.Equal(t, uint64(42), db["collect:0xaa"].NextBlock)

	cp, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), cp.NextBlock)

	var empty *DBCheckpointStore
	_, ok, err = empty.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCollectionScope(t *testing.T) {
	assert.Equal(t,
		"target=0x00000000000000000000000000000000000000aa;contract=0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48;store=jsonl:/data/events.jsonl",
		CollectionScope(target, token, "jsonl:/data/events.jsonl"))
	assert.Equal(t,
		"target=0x00000000000000000000000000000000000000aa;contract=any;store=jsonl:/data/events.jsonl",
		CollectionScope(target, common.Address{}, "jsonl:/data/events.jsonl"))
	assert.NotEqual(t, CollectionScope(target, token, "jsonl:/a"), CollectionScope(target, token, "jsonl:/b"))
	assert.NotEqual(t, CollectionScope(target, token, "jsonl:/a"), CollectionScope(other, token, "jsonl:/a"))
}

func TestFileCheckpointStoreKeepsScope(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	scope := CollectionScope(target, token, "jsonl:/data/events.jsonl")

	require.NoError(t, NewFileCheckpointStore(path, true).Save(ctx, model.Checkpoint{Scope: scope, NextBlock: 77}))
	cp, ok, err := NewFileCheckpointStore(path, true).Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, scope, cp.Scope)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x00000000000000000000000000000000000000AA ")
	require.NoError(t, err)
	assert.Equal(t, target, addr)

	_, err = ParseAddress("0x1234")
	assert.Error(t, err)

	zero, err := ParseOptionalAddress("")
	require.NoError(t, err)
	assert.Equal(t, [20]byte{}, [20]byte(zero))
}
