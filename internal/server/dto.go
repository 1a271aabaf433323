package server

import (
	"context"

	"tweetproof/internal/domain"
	"tweetproof/internal/events"
)

// historian is implemented by spool backends that keep an audit trail.
type historian interface {
	History(ctx context.Context, id string) ([]events.Event, error)
}

// SpoolSummary lists a record without its payload.
type SpoolSummary struct {
	ID          string  `json:"id"`
	FileID      string  `json:"file_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	DrainedAt   *string `json:"drained_at,omitempty"`
	ReplayingAt *string `json:"replaying_at,omitempty"`
	Bytes       int     `json:"bytes"`
}

type SpoolListResponse struct {
	Records []SpoolSummary `json:"records"`
	Pending int            `json:"pending"`
}

type SpoolListOutput struct {
	Body SpoolListResponse `json:"body"`
}

type SpoolRecordResponse struct {
	domain.SpoolRecord
	History []events.Event `json:"history,omitempty"`
}

type SpoolRecordOutput struct {
	Body SpoolRecordResponse `json:"body"`
}

type ReplayResponse struct {
	Status string       `json:"status" enum:"drained"`
	Record SpoolSummary `json:"record"`
}

type ReplayOutput struct {
	Body ReplayResponse `json:"body"`
}

func toSummary(rec domain.SpoolRecord) SpoolSummary {
	return SpoolSummary{
		ID:          rec.ID,
		FileID:      rec.FileID,
		CreatedAt:   rec.CreatedAt,
		DrainedAt:   rec.DrainedAt,
		ReplayingAt: rec.ReplayingAt,
		Bytes:       len(rec.Payload),
	}
}

func toSummaries(recs []domain.SpoolRecord) []SpoolSummary {
	out := make([]SpoolSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, toSummary(r))
	}
	return out
}
