package gateway

import (
	"context"
	"time"
)

// Result statuses reported by the gateway. APPROVED and DECLINED are
// terminal; anything else surfaces as a transport error.
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
)

// CaptureRequest asks the gateway to convert a buyer's payment instrument
// into settled funds for the given amount.
type CaptureRequest struct {
	IdempotencyKey string
	InstrumentID   string
	Amount         int64
	Currency       string
}

// RefundRequest reverses a previous capture identified by its external
// reference.
type RefundRequest struct {
	IdempotencyKey    string
	ExternalReference string
	Amount            int64
	Currency          string
}

// Result is the gateway's answer to a capture or refund attempt. A non-nil
// error from a gateway call means the outcome is unknown and the caller
// must re-check state before retrying.
type Result struct {
	ExternalReference string    `json:"external_reference"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

// Approved reports whether the gateway settled the request.
func (r *Result) Approved() bool {
	return r != nil && r.Status == StatusApproved
}

// Gateway is the external payment capability consumed by the escrow
// settlement engine.
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (*Result, error)
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
}
