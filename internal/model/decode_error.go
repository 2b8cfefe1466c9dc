package model

import "fmt"

// DecodeError records a log or receipt whose shape does not match a token transfer.
type DecodeError struct {
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Reason      string `json:"error"`
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode log %s:%d (block %d): %s", e.TxHash, e.LogIndex, e.BlockNumber, e.Reason)
}
