package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrRangeTooLarge marks a provider rejection of a query whose block range or
// result count exceeds the provider's limits. Retrying the same range cannot succeed.
var ErrRangeTooLarge = errors.New("query range too large")

// Class is the classification tag of a failed operation.
type Class string

const (
	ClassRateLimit     Class = "rate_limit"
	ClassNetwork       Class = "network"
	ClassServer        Class = "server"
	ClassRangeTooLarge Class = "range_too_large"
	ClassCanceled      Class = "canceled"
	ClassFatal         Class = "fatal"
)

// Retryable reports whether errors of this class should be retried.
func (c Class) Retryable() bool {
	switch c {
	case ClassRateLimit, ClassNetwork, ClassServer:
		return true
	default:
		return false
	}
}

var rangeTooLargeMarkers = []string{
	"query returned more than",
	"block range",
	"range too large",
	"range is too large",
	"exceed maximum block range",
	"exceeds the range",
	"too many results",
	"response size exceeded",
	"log response size",
}

// A bare 429 only counts next to a status word; block numbers contain digit runs.
var rateLimitPattern = regexp.MustCompile(`rate[ -]?limit|too many requests|capacity exceeded|\b(status|status code|http|code)[ :=]*429\b`)

var networkMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"timed out",
	"no such host",
	"unexpected eof",
	"network is unreachable",
	"tls handshake",
}

// JSON-RPC error codes (EIP-1474).
const (
	codeLimitExceeded = -32005
	codeInternal      = -32603
)

var serverMarkers = []string{
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
}

// Classify maps an error to its retry class.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, ErrRangeTooLarge) {
		return ClassRangeTooLarge
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, rangeTooLargeMarkers) {
		return ClassRangeTooLarge
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return ClassRateLimit
		case httpErr.StatusCode >= http.StatusInternalServerError:
			return ClassServer
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeLimitExceeded:
			return ClassRateLimit
		case codeInternal:
			return ClassServer
		}
	}
	if rateLimitPattern.MatchString(msg) {
		return ClassRateLimit
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	if containsAny(msg, networkMarkers) {
		return ClassNetwork
	}
	if containsAny(msg, serverMarkers) {
		return ClassServer
	}

	return ClassFatal
}

// IsRetryable is the default error classifier for RPC operations.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// IsRangeTooLarge reports whether err is a provider range or result-count rejection.
func IsRangeTooLarge(err error) bool {
	return Classify(err) == ClassRangeTooLarge
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
