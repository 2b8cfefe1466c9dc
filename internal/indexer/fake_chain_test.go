package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"gasScope/internal/erc20"
	"gasScope/internal/retry"
)

var (
	target   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	token    = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
)

const genesisTime = 1710000000

// fakeChain serves transfer logs, headers and receipts from memory and
// applies address and topic filters the way a node does.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	receipts map[common.Hash]*types.Receipt

	filterErr    func(query ethereum.FilterQuery) error
	filterCalls  int
	headerCalls  int
	receiptCalls int
}

func newFakeChain(head uint64) *fakeChain {
	return &fakeChain{head: head, receipts: make(map[common.Hash]*types.Receipt)}
}

// addTransfer appends a Transfer log and a receipt for its transaction.
func (c *fakeChain) addTransfer(block uint64, txHash common.Hash, logIndex uint, from, to common.Address, value int64) types.Log {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := types.Log{
		Address:     token,
		Topics:      []common.Hash{erc20.TransferTopic, erc20.AddressTopic(from), erc20.AddressTopic(to)},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		BlockNumber: block,
		TxHash:      txHash,
		Index:       logIndex,
	}
	c.logs = append(c.logs, log)
	c.receipts[txHash] = &types.Receipt{
		TxHash:            txHash,
		GasUsed:           65000,
		EffectiveGasPrice: big.NewInt(20_000_000_000),
		BlockNumber:       new(big.Int).SetUint64(block),
	}
	return log
}

// addNFTTransfer appends an ERC-721 Transfer log, which indexes the token id.
func (c *fakeChain) addNFTTransfer(block uint64, txHash common.Hash, logIndex uint, collection, from, to common.Address, tokenID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logs = append(c.logs, types.Log{
		Address:     collection,
		Topics:      []common.Hash{erc20.TransferTopic, erc20.AddressTopic(from), erc20.AddressTopic(to), common.BigToHash(big.NewInt(tokenID))},
		BlockNumber: block,
		TxHash:      txHash,
		Index:       logIndex,
	})
	c.receipts[txHash] = &types.Receipt{
		TxHash:            txHash,
		GasUsed:           90000,
		EffectiveGasPrice: big.NewInt(20_000_000_000),
		BlockNumber:       new(big.Int).SetUint64(block),
	}
}

func (c *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeChain) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filterCalls++
	if c.filterErr != nil {
		if err := c.filterErr(query); err != nil {
			return nil, err
		}
	}

	from, to := query.FromBlock.Uint64(), query.ToBlock.Uint64()
	var out []types.Log
	for _, log := range c.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(query.Addresses) > 0 && !containsAddress(query.Addresses, log.Address) {
			continue
		}
		if !matchTopics(query.Topics, log.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (c *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.headerCalls++
	if number > c.head {
		return 0, fmt.Errorf("block %d not found", number)
	}
	return genesisTime + number*12, nil
}

func (c *fakeChain) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receiptCalls++
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *fakeChain) calls() (filter, header, receipt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filterCalls, c.headerCalls, c.receiptCalls
}

func containsAddress(addresses []common.Address, address common.Address) bool {
	for _, a := range addresses {
		if a == address {
			return true
		}
	}
	return false
}

func matchTopics(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		matched := false
		for _, topic := range alternatives {
			if topic == topics[i] {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func txHash(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(n)))
}

func noSleep(context.Context, time.Duration) error {
	return nil
}

func testPolicy() retry.Policy {
	return retry.DefaultPolicy().WithSleep(noSleep)
}

func newTestPipeline(chain *fakeChain) *Pipeline {
	p := NewPipeline(chain, FetchConfig{Target: target, Contract: token}, testPolicy(), nil)
	p.sleep = noSleep
	return p
}
