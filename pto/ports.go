package pto

import (
	"context"

	"github.com/warp/pto-service/record"
)

// Directory is the host identity provider. Both calls are read-only.
type Directory interface {
	// CurrentUser returns the account of the caller in ctx.
	CurrentUser(ctx context.Context) (*Account, error)
	// SearchUsers returns accounts matching query.
	SearchUsers(ctx context.Context, query string) ([]Account, error)
}

// EventTypePTOApproved tags approval notices sent to the integration hook.
const EventTypePTOApproved = "PTO_APPROVED"

// ApprovalNotice is the payload delivered to the resource-management hook.
type ApprovalNotice struct {
	EventType      string          `json:"eventType"`
	RequestID      string          `json:"requestId"`
	UserID         string          `json:"userId"`
	StartDate      string          `json:"startDate"`
	EndDate        string          `json:"endDate"`
	DailySchedules []DailySchedule `json:"dailySchedules"`
}

// Notifier delivers approval notices.
type Notifier interface {
	NotifyApproval(ctx context.Context, n ApprovalNotice) error
}

// Recorder receives domain counters. The metrics package implements it.
type Recorder interface {
	Transition(to Status)
	Delivery(outcome string)
}

// Delivery outcomes passed to Recorder.Delivery.
const (
	DeliveryOK     = "delivered"
	DeliveryRetry  = "retry"
	DeliveryFailed = "failed"
)

type nopRecorder struct{}

func (nopRecorder) Transition(Status) {}
func (nopRecorder) Delivery(string)   {}

// =============================================================================
// DECODING
// =============================================================================

func decodeOne[T any](rec record.Record) (*T, error) {
	if rec == nil {
		return nil, nil
	}
	var v T
	if err := rec.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeAll[T any](recs []record.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := r.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
