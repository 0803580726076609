// Package adapter owns the contract to the external sending channel. The
// engine classifies outcomes; implementations only report what the channel
// said.
package adapter

import (
	"context"
	"encoding/json"

	"github.com/espenwaaga/arbeidsgiver-notifikasjon-produsent-api/internal/domain"
)

// Response is the channel's answer for one notice. Sent=false carries the
// provider's error code and message; classifying that code as permanent or
// retryable is the engine's job, not the adapter's.
type Response struct {
	Sent         bool
	Raw          json.RawMessage
	ErrorCode    string
	ErrorMessage string
}

// Client sends a single notice. A non-nil error means the transport failed
// (network, timeout) and the attempt is retryable. Implementations must be
// safe for concurrent calls across distinct notices.
type Client interface {
	Send(ctx context.Context, notice *domain.ExternalNotice) (*Response, error)
}
