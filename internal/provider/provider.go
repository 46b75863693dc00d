// Package provider contains the per-upstream price adapters. Each adapter
// returns normalized price records or a typed failure; partial results are
// always returned, never discarded.
package provider

import (
	"context"
	"errors"
	"net/http"

	"memecoin-lending-oracle/internal/domain"
)

// Typed adapter failures. Callers classify with errors.Is.
var (
	// ErrRateLimited indicates the upstream returned a rate-limit signal.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnauthorized indicates a credential/authorization failure. This is
	// a configuration defect, not transient load.
	ErrUnauthorized = errors.New("provider unauthorized")

	// ErrNoData indicates the provider has no price for the asset.
	ErrNoData = errors.New("provider has no data")

	// ErrBadPayload indicates the upstream response failed validation.
	ErrBadPayload = errors.New("provider returned malformed payload")

	// ErrUnavailable indicates a transient upstream failure (timeout, 5xx,
	// connection reset).
	ErrUnavailable = errors.New("provider unavailable")
)

// Adapter fetches normalized prices for a set of mints.
//
// FetchPrices never fails on partial results: if some of the requested
// mints resolve, those are returned with a nil error and the caller retries
// the remainder elsewhere. A typed error is returned only when the call as
// a whole failed or nothing resolved.
type Adapter interface {
	// Name identifies the adapter in records, logs and metrics.
	Name() domain.PriceSource

	// SupportsBatch reports whether one FetchPrices call may carry
	// multiple mints.
	SupportsBatch() bool

	// FetchPrices resolves prices for the given mints.
	FetchPrices(ctx context.Context, mints []string) (map[string]*domain.PriceRecord, error)
}

// classifyStatus maps an HTTP status code onto a typed failure.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNoData
	default:
		return ErrUnavailable
	}
}

// FailureClass returns the metric/audit label for a typed failure.
func FailureClass(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrBadPayload):
		return "bad_payload"
	default:
		return "unavailable"
	}
}
