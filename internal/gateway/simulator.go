package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Simulator is a mock acquiring bank used in development and simulation
// runs. It models network latency, declined charges, and idempotent
// replays of previously seen requests.
type Simulator struct {
	MinLatency   int // in milliseconds
	MaxLatency   int
	ApprovalRate float64 // 0-1, probability a capture is approved

	mu   sync.Mutex
	seen map[string]*Result // idempotency key -> prior result
}

// NewSimulator returns a simulator with production-ish defaults.
func NewSimulator() *Simulator {
	return &Simulator{
		MinLatency:   5,
		MaxLatency:   40,
		ApprovalRate: 0.95,
		seen:         make(map[string]*Result),
	}
}

func (s *Simulator) Capture(ctx context.Context, req CaptureRequest) (*Result, error) {
	logger := log.With().
		Str("component", "gateway_simulator").
		Str("idempotency_key", req.IdempotencyKey).
		Int64("amount", req.Amount).
		Logger()

	if prior := s.replay(req.IdempotencyKey); prior != nil {
		logger.Info().Str("status", prior.Status).Msg("replaying prior capture result")
		return prior, nil
	}

	if err := s.simulateLatency(ctx); err != nil {
		return nil, fmt.Errorf("gateway capture interrupted: %w", err)
	}

	result := &Result{
		ExternalReference: fmt.Sprintf("CHG-%d", rand.Int63()),
		Status:            StatusApproved,
		Timestamp:         time.Now(),
	}
	if rand.Float64() > s.ApprovalRate {
		result.Status = StatusDeclined
		logger.Warn().Float64("approval_rate", s.ApprovalRate).Msg("capture declined")
	} else {
		logger.Info().Str("external_reference", result.ExternalReference).Msg("capture approved")
	}

	s.remember(req.IdempotencyKey, result)
	return result, nil
}

func (s *Simulator) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	logger := log.With().
		Str("component", "gateway_simulator").
		Str("external_reference", req.ExternalReference).
		Int64("amount", req.Amount).
		Logger()

	if prior := s.replay(req.IdempotencyKey); prior != nil {
		logger.Info().Str("status", prior.Status).Msg("replaying prior refund result")
		return prior, nil
	}

	if err := s.simulateLatency(ctx); err != nil {
		return nil, fmt.Errorf("gateway refund interrupted: %w", err)
	}

	// Refunds of a known capture always succeed at the simulated bank
	result := &Result{
		ExternalReference: fmt.Sprintf("RFD-%d", rand.Int63()),
		Status:            StatusApproved,
		Timestamp:         time.Now(),
	}
	logger.Info().Str("refund_reference", result.ExternalReference).Msg("refund approved")

	s.remember(req.IdempotencyKey, result)
	return result, nil
}

func (s *Simulator) simulateLatency(ctx context.Context) error {
	latency := rand.Intn(s.MaxLatency-s.MinLatency+1) + s.MinLatency
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(latency) * time.Millisecond):
		return nil
	}
}

func (s *Simulator) replay(key string) *Result {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[key]
}

func (s *Simulator) remember(key string, result *Result) {
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = result
}
