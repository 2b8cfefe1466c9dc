package indexer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gasScope/internal/model"
)

// Supervisor is the long-running task host of a collection run. It receives
// heartbeats, relays stop requests and persists the cursor across segments.
type Supervisor interface {
	Heartbeat(progress model.CollectionProgress)
	StopRequested() bool
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LoadCheckpoint(ctx context.Context) (model.Checkpoint, bool, error)
}

// LocalSupervisor hosts a run inside the current process.
type LocalSupervisor struct {
	checkpoints CheckpointStore

	stop     atomic.Bool
	lastBeat atomic.Int64

	mu       sync.RWMutex
	progress model.CollectionProgress

	now func() time.Time
}

// NewLocalSupervisor returns a supervisor persisting checkpoints to store; a
// nil store keeps no checkpoints.
func NewLocalSupervisor(store CheckpointStore) *LocalSupervisor {
	s := &LocalSupervisor{
		checkpoints: store,
		progress:    model.CollectionProgress{State: model.StateIdle},
		now:         time.Now,
	}
	s.Beat()
	return s
}

func (s *LocalSupervisor) Heartbeat(progress model.CollectionProgress) {
	s.mu.Lock()
	s.progress = progress
	s.mu.Unlock()
	s.Beat()
}

// Beat records liveness without changing the progress snapshot.
func (s *LocalSupervisor) Beat() {
	s.lastBeat.Store(s.now().UnixNano())
}

// RequestStop asks the run to stop at the next batch boundary.
func (s *LocalSupervisor) RequestStop() {
	s.stop.Store(true)
}

func (s *LocalSupervisor) StopRequested() bool {
	return s.stop.Load()
}

// Progress returns the last reported progress snapshot.
func (s *LocalSupervisor) Progress() model.CollectionProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *LocalSupervisor) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastBeat.Load())
}

// Stalled reports whether a non-terminal run has not sent a heartbeat within maxAge.
func (s *LocalSupervisor) Stalled(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	progress := s.Progress()
	if progress.State == model.StateIdle || progress.State.Terminal() {
		return false
	}
	return s.now().Sub(s.LastHeartbeat()) > maxAge
}

func (s *LocalSupervisor) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if s.checkpoints == nil {
		return nil
	}
	return s.checkpoints.Save(ctx, cp)
}

func (s *LocalSupervisor) LoadCheckpoint(ctx context.Context) (model.Checkpoint, bool, error) {
	if s.checkpoints == nil {
		return model.Checkpoint{}, false, nil
	}
	return s.checkpoints.Load(ctx)
}
