package indexer

import "fmt"

// BatchError wraps a failure while processing the inclusive block range [From, To].
type BatchError struct {
	From uint64
	To   uint64
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch [%d,%d]: %v", e.From, e.To, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// StorageError is a failed write of the events of block range [From, To].
type StorageError struct {
	From uint64
	To   uint64
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store events for [%d,%d]: %v", e.From, e.To, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
