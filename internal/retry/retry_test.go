package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testPolicy(rec *sleepRecorder, jitter float64) Policy {
	p := Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
	p.sleep = rec.sleep
	p.jitter = func() float64 { return jitter }
	return p
}

func TestDoSuccessNoDelay(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	got, err := Do(context.Background(), testPolicy(rec, 1), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	got, err := Do(context.Background(), testPolicy(rec, 1), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("429 Too Many Requests")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDoRangeTooLargeShortCircuits(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	_, err := Do(context.Background(), testPolicy(rec, 1), func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("eth_getLogs: %w", ErrRangeTooLarge)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRangeTooLarge)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoProviderRangeMessageShortCircuits(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0

	err := Run(context.Background(), testPolicy(rec, 1), func(context.Context) error {
		calls++
		return errors.New("query returned more than 10000 results")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoExhaustsRetries(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	last := errors.New("connection reset by peer")

	err := Run(context.Background(), testPolicy(rec, 0.5), func(context.Context) error {
		calls++
		return last
	})
	require.ErrorIs(t, err, last)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, rec.delays)
}

func TestDoStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	p := DefaultPolicy()
	err := Run(ctx, p, func(context.Context) error {
		calls++
		cancel()
		return errors.New("connect: network is unreachable")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffBounds(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 30 * time.Second}

	for attempt := 0; attempt < 12; attempt++ {
		upper := time.Second << attempt
		if upper > 30*time.Second {
			upper = 30 * time.Second
		}
		for i := 0; i < 200; i++ {
			d := p.Backoff(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, upper)
		}
	}

	p.jitter = func() float64 { return 0 }
	assert.Equal(t, time.Duration(0), p.Backoff(5))
}

func TestBackoffLargeAttemptDoesNotOverflow(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 30 * time.Second}
	p.jitter = func() float64 { return 1 }

	assert.Equal(t, 30*time.Second, p.Backoff(200))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, ClassRateLimit},
		{rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, ClassServer},
		{errors.New("exceeded the rate limit for this key"), ClassRateLimit},
		{errors.New("read tcp: connection reset by peer"), ClassNetwork},
		{errors.New("dial tcp: lookup rpc.example: no such host"), ClassNetwork},
		{context.DeadlineExceeded, ClassNetwork},
		{errors.New("query returned more than 10000 results"), ClassRangeTooLarge},
		{errors.New("eth_getLogs is limited to a 10000 block range"), ClassRangeTooLarge},
		{fmt.Errorf("wrap: %w", ErrRangeTooLarge), ClassRangeTooLarge},
		{context.Canceled, ClassCanceled},
		{errors.New("execution reverted"), ClassFatal},
	}

	for _, tc := range cases {
		assert.Equalf(t, tc.want, Classify(tc.err), "classify %v", tc.err)
	}
	assert.True(t, IsRetryable(errors.New("502 bad gateway")))
	assert.True(t, IsRetryable(io.ErrUnexpectedEOF))
}

type codedError struct {
	code int
}

func (e codedError) Error() string  { return fmt.Sprintf("rpc error %d", e.code) }
func (e codedError) ErrorCode() int { return e.code }

func TestClassifyStructuredErrors(t *testing.T) {
	assert.Equal(t, ClassRateLimit, Classify(fmt.Errorf("eth_getLogs: %w", codedError{code: -32005})))
	assert.Equal(t, ClassServer, Classify(codedError{code: -32603}))
	assert.Equal(t, ClassFatal, Classify(codedError{code: -32602}))
}

func TestClassifyIgnoresNumbersInMessages(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{fmt.Errorf("batch [18429000,18430999]: receipt 0xdead: %w", errors.New("not found")), ClassFatal},
		{fmt.Errorf("batch [429,628]: %w", errors.New("missing receipt")), ClassFatal},
		{errors.New("receipt 0x429abc: network id mismatch"), ClassFatal},
		{errors.New("decode reply: eof marker missing"), ClassFatal},
		{errors.New("unexpected status 429"), ClassRateLimit},
		{errors.New("HTTP 429 from upstream"), ClassRateLimit},
		{errors.New("429 Too Many Requests"), ClassRateLimit},
	}

	for _, tc := range cases {
		assert.Equalf(t, tc.want, Classify(tc.err), "classify %v", tc.err)
	}
	assert.False(t, IsRetryable(errors.New("query returned more than 10000 results")))
}
