package indexer

import (
	"math"
	"time"
)

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// NextBatch returns [from, min(from+batchSize-1, head)].
func NextBatch(from, batchSize, head uint64) BlockRange {
	if batchSize == 0 {
		batchSize = 1
	}
	to := head
	if span := batchSize - 1; from <= math.MaxUint64-span && from+span < head {
		to = from + span
	}
	if to < from {
		to = from
	}
	return BlockRange{From: from, To: to}
}

// LookbackBlocks converts a lookback window in days into a block count at the
// given average block interval.
func LookbackBlocks(days uint64, blockTime time.Duration) uint64 {
	if blockTime <= 0 {
		blockTime = DefaultBlockTime
	}
	seconds := uint64(blockTime / time.Second)
	if seconds == 0 {
		seconds = 1
	}
	return days * 86400 / seconds
}

// LookbackStart is head minus the lookback window, saturating at block 0.
func LookbackStart(head, days uint64, blockTime time.Duration) uint64 {
	blocks := LookbackBlocks(days, blockTime)
	if blocks >= head {
		return 0
	}
	return head - blocks
}
