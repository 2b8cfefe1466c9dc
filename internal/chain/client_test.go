package chain

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEthService struct {
	headerCalls atomic.Int64
}

func (s *fakeEthService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1))
}

func (s *fakeEthService) BlockNumber() hexutil.Uint64 {
	return 1000
}

func (s *fakeEthService) GetBlockByNumber(number hexutil.Uint64, _ bool) *types.Header {
	s.headerCalls.Add(1)
	return &types.Header{
		Number:     new(big.Int).SetUint64(uint64(number)),
		Time:       1700000000 + uint64(number)*12,
		Difficulty: big.NewInt(0),
		GasLimit:   30_000_000,
	}
}

func newTestClient(t *testing.T, svc *fakeEthService, opts Options) *Client {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	t.Cleanup(server.Stop)

	client, err := newClient(rpc.DialInProc(server), opts)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestClientHeadAndChainID(t *testing.T) {
	client := newTestClient(t, &fakeEthService{}, Options{})
	ctx := context.Background()

	head, err := client.LatestBlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), head)

	id, err := client.GetChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id.Int64())
}

func TestBlockTimestampIsCached(t *testing.T) {
	svc := &fakeEthService{}
	client := newTestClient(t, svc, Options{Timeout: time.Second})
	ctx := context.Background()

	ts, err := client.BlockTimestamp(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700001200), ts)

	ts, err = client.BlockTimestamp(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700001200), ts)
	assert.Equal(t, int64(1), svc.headerCalls.Load())
}

func TestRateLimiterHonoursContext(t *testing.T) {
	client := newTestClient(t, &fakeEthService{}, Options{RequestsPerSecond: 0.001})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.LatestBlockNumber(ctx)
	require.NoError(t, err)

	_, err = client.LatestBlockNumber(ctx)
	require.Error(t, err)
}
