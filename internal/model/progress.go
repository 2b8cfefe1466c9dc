package model

// RunState is the state of a collection run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateResuming  RunState = "resuming"
	StateScanning  RunState = "scanning"
	StateStopped   RunState = "stopped"
	StateCompleted RunState = "completed"
)

// Terminal reports whether no further batches will be scanned in this state.
func (s RunState) Terminal() bool {
	return s == StateStopped || s == StateCompleted
}

// CollectionProgress is the run-scoped progress of the collection loop.
type CollectionProgress struct {
	State           RunState `json:"state"`
	EventsCollected uint64   `json:"events_collected"`
	BlocksProcessed uint64   `json:"blocks_processed"`
	CurrentBlock    uint64   `json:"current_block"`
	StartBlock      uint64   `json:"start_block"`
	ChainHead       uint64   `json:"chain_head"`
	TargetEvents    uint64   `json:"target_events"`
	BatchSize       uint64   `json:"batch_size"`
	Segment         int      `json:"segment"`
	IsComplete      bool     `json:"is_complete"`
}

// UpdateComplete recomputes IsComplete from the counters.
func (p *CollectionProgress) UpdateComplete() bool {
	p.IsComplete = p.EventsCollected >= p.TargetEvents || p.CurrentBlock >= p.ChainHead
	return p.IsComplete
}

// Checkpoint is the persisted cursor of a collection run.
type Checkpoint struct {
	// Scope names the target, contract and store the cursor was recorded for.
	Scope           string `json:"scope"`
	NextBlock       uint64 `json:"next_block"`
	ChainHead       uint64 `json:"chain_head"`
	EventsCollected uint64 `json:"events_collected"`
	Segment         int    `json:"segment"`
	UpdatedAt       string `json:"updated_at"`
}
