package erc20

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"gasScope/internal/model"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// AddressTopic left-pads an address into an indexed topic.
func AddressTopic(address common.Address) common.Hash {
	return common.BytesToHash(address.Bytes())
}

// IsTransferShape reports whether log has the ERC-20 Transfer layout. ERC-721
// Transfer shares topic0 but indexes the token id as a fourth topic.
func IsTransferShape(log types.Log) bool {
	return len(log.Topics) == 3 && log.Topics[0] == TransferTopic && len(log.Data) == 32
}

// DecodeTransfer converts a raw log into a TransferEvent. The log must carry the
// Transfer signature, exactly two indexed address topics and a 32-byte value.
func DecodeTransfer(log types.Log) (model.TransferEvent, error) {
	fail := func(reason string) (model.TransferEvent, error) {
		topic0 := ""
		if len(log.Topics) > 0 {
			topic0 = log.Topics[0].Hex()
		}
		return model.TransferEvent{}, &model.DecodeError{
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash.Hex(),
			LogIndex:    uint64(log.Index),
			Address:     strings.ToLower(log.Address.Hex()),
			Topic0:      topic0,
			Reason:      reason,
		}
	}

	if len(log.Topics) == 0 {
		return fail("missing topics")
	}
	if log.Topics[0] != TransferTopic {
		return fail("unexpected topic0")
	}
	if len(log.Topics) != 3 {
		return fail(fmt.Sprintf("expected 3 topics, got %d", len(log.Topics)))
	}
	for _, topic := range log.Topics[1:] {
		if !isAddressTopic(topic) {
			return fail("indexed topic is not an address")
		}
	}

	erc20ABI, err := ABI()
	if err != nil {
		return model.TransferEvent{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := erc20ABI.Events["Transfer"].Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return fail(fmt.Sprintf("unpack value: %v", err))
	}
	if len(values) != 1 || len(log.Data) != 32 {
		return fail(fmt.Sprintf("unexpected data length %d", len(log.Data)))
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return fail(fmt.Sprintf("unexpected value type %T", values[0]))
	}
	value, overflow := uint256.FromBig(raw)
	if overflow {
		return fail("value overflows uint256")
	}

	return model.TransferEvent{
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		BlockNumber: log.BlockNumber,
		Contract:    strings.ToLower(log.Address.Hex()),
		From:        topicAddress(log.Topics[1]),
		To:          topicAddress(log.Topics[2]),
		Value:       value,
	}, nil
}

func isAddressTopic(topic common.Hash) bool {
	for _, b := range topic[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return false
		}
	}
	return true
}

func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}
