package erc20

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasScope/internal/model"
)

func transferLog(t *testing.T, from, to common.Address, value *big.Int) types.Log {
	t.Helper()
	erc20ABI, err := ABI()
	require.NoError(t, err)
	data, err := erc20ABI.Events["Transfer"].Inputs.NonIndexed().Pack(value)
	require.NoError(t, err)

	return types.Log{
		Address:     common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Topics:      []common.Hash{TransferTopic, AddressTopic(from), AddressTopic(to)},
		Data:        data,
		BlockNumber: 150,
		TxHash:      common.HexToHash("0x01"),
		Index:       4,
	}
}

func TestTransferTopicMatchesABI(t *testing.T) {
	erc20ABI, err := ABI()
	require.NoError(t, err)
	assert.Equal(t, erc20ABI.Events["Transfer"].ID, TransferTopic)
}

func TestDecodeTransfer(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD")

	event, err := DecodeTransfer(transferLog(t, from, to, big.NewInt(100_000000)))
	require.NoError(t, err)

	assert.Equal(t, "0x1111111111111111111111111111111111111111", event.From)
	assert.Equal(t, "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", event.To)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", event.Contract)
	assert.Equal(t, "100000000", event.Value.Dec())
	assert.Equal(t, uint64(150), event.BlockNumber)
	assert.Equal(t, uint64(4), event.LogIndex)
}

func TestDecodeTransferRejectsBadShapes(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	cases := map[string]func(l *types.Log){
		"no topics":      func(l *types.Log) { l.Topics = nil },
		"wrong topic0":   func(l *types.Log) { l.Topics[0] = common.HexToHash("0xdead") },
		"erc721 shape":   func(l *types.Log) { l.Topics = append(l.Topics, common.HexToHash("0x07")); l.Data = nil },
		"missing value":  func(l *types.Log) { l.Data = nil },
		"oversized data": func(l *types.Log) { l.Data = append(l.Data, make([]byte, 32)...) },
		"dirty topic":    func(l *types.Log) { l.Topics[1] = common.HexToHash("0xff00000000000000000000001111111111111111111111111111111111111111") },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			log := transferLog(t, from, to, big.NewInt(1))
			mutate(&log)

			_, err := DecodeTransfer(log)
			require.Error(t, err)
			var decodeErr *model.DecodeError
			assert.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, uint64(4), decodeErr.LogIndex)
		})
	}
}

type fakeCaller struct {
	responses map[string][]byte
	calls     int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	out, ok := f.responses[common.Bytes2Hex(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func TestFetchTokenMeta(t *testing.T) {
	erc20ABI, err := ABI()
	require.NoError(t, err)

	decimals, err := erc20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)
	symbol, err := erc20ABI.Methods["symbol"].Outputs.Pack("USDC")
	require.NoError(t, err)

	caller := &fakeCaller{responses: map[string][]byte{
		common.Bytes2Hex(erc20ABI.Methods["decimals"].ID): decimals,
		common.Bytes2Hex(erc20ABI.Methods["symbol"].ID):   symbol,
	}}
	cache := NewTokenMetaCache()
	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	meta, err := FetchTokenMeta(context.Background(), caller, token, cache, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), meta.Decimals)
	assert.Equal(t, "USDC", meta.Symbol)
	assert.Empty(t, meta.Name)

	calls := caller.calls
	_, err = FetchTokenMeta(context.Background(), caller, token, cache, nil)
	require.NoError(t, err)
	assert.Equal(t, calls, caller.calls)
}
