package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"gasScope/internal/model"
)

// enrichWithReceipt attaches the gas paid by the event's transaction.
func enrichWithReceipt(event model.TransferEvent, receipt *types.Receipt) (model.EnrichedEvent, error) {
	fail := func(reason string) (model.EnrichedEvent, error) {
		return model.EnrichedEvent{}, &model.DecodeError{
			BlockNumber: event.BlockNumber,
			TxHash:      event.TxHash,
			LogIndex:    event.LogIndex,
			Address:     event.Contract,
			Reason:      reason,
		}
	}

	if receipt == nil {
		return fail("missing receipt")
	}
	if !strings.EqualFold(receipt.TxHash.Hex(), event.TxHash) {
		return fail(fmt.Sprintf("receipt is for transaction %s", receipt.TxHash.Hex()))
	}
	if receipt.EffectiveGasPrice == nil {
		return fail("receipt has no effective gas price")
	}
	price, overflow := uint256.FromBig(receipt.EffectiveGasPrice)
	if overflow {
		return fail("effective gas price overflows uint256")
	}

	enriched, err := model.Enrich(event, receipt.GasUsed, price)
	if err != nil {
		return model.EnrichedEvent{}, fmt.Errorf("enrich %s: %w", event.Key(), err)
	}
	return enriched, nil
}
