package splists

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Doer issues one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(*http.Request) (*http.Response, error)

// Do implements Doer.
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TokenFunc acquires a bearer token. forceRefresh is true when the previous
// token was rejected with 401 and a fresh one is required.
type TokenFunc func(ctx context.Context, forceRefresh bool) (string, error)

// RetryReason classifies why an attempt is being retried.
type RetryReason string

const (
	ReasonServer   RetryReason = "server"
	ReasonThrottle RetryReason = "throttle"
	ReasonTimeout  RetryReason = "timeout"
	ReasonAuth     RetryReason = "auth"
	ReasonNetwork  RetryReason = "network"
)

// RetryMeta describes one retry of a logical call. Attempt starts at 1 for the
// first retry and grows monotonically within the call.
type RetryMeta struct {
	Attempt int
	Status  int
	Delay   time.Duration
	Reason  RetryReason
}

// RetryObserver is notified before every retry. Panics are recovered.
type RetryObserver func(RetryMeta)

// BackoffStrategy selects the delay algorithm used between retries.
type BackoffStrategy int

const (
	// ExponentialJitter is min(max, base*multiplier^k) plus bounded jitter.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter spreads delays between base and base*3^k.
	DecorrelatedJitter
)

// String returns the strategy name.
func (s BackoffStrategy) String() string {
	switch s {
	case ExponentialJitter:
		return "exponential"
	case DecorrelatedJitter:
		return "decorrelated"
	default:
		return "unknown"
	}
}

// OpKind is the mutation performed by a BatchOperation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// BatchOperation is one mutation inside a batch. ID is ignored for creates.
// An empty ETag sends If-Match: *.
type BatchOperation struct {
	Kind OpKind
	List ListRef
	ID   int
	Body map[string]any
	ETag string
}

// BatchResult is the outcome of the BatchOperation at the same index. Data holds
// the JSON body (envelope removed) when the embedded response was JSON, Text
// holds the raw body otherwise.
type BatchResult struct {
	OK     bool
	Status int
	Data   json.RawMessage
	Text   string
}

// Item is a list item payload together with its concurrency token.
type Item struct {
	Data json.RawMessage
	ETag string
}

// Decode unmarshals the item payload into v.
func (i *Item) Decode(v any) error {
	return json.Unmarshal(i.Data, v)
}

// Option configures a Client.
type Option func(*Client)
