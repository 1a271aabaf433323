// Package spool keeps reward payloads that could not be delivered to the
// ledger so an operator can replay them later.
package spool

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"tweetproof/internal/config"
	"tweetproof/internal/domain"
)

var (
	ErrNotFound = errors.New("spool record not found")
	// ErrClaimed is returned by Claim while another replay holds the record.
	ErrClaimed = errors.New("spool record is being replayed")
	ErrDrained = errors.New("spool record already drained")
)

// TimeLayout formats spool timestamps. It is fixed width so created_at
// sorts lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ListOptions filters List.
type ListOptions struct {
	// IncludeDrained also returns records already delivered by a replay.
	// The file backend deletes drained records, so it has none to return.
	IncludeDrained bool
}

// Spool is a durable store of undelivered reward payloads. Payload bytes
// are stored and returned verbatim.
type Spool interface {
	Put(ctx context.Context, fileID string, payload []byte) (domain.SpoolRecord, error)
	List(ctx context.Context, opts ListOptions) ([]domain.SpoolRecord, error)
	Get(ctx context.Context, id string) (domain.SpoolRecord, error)
	// Claim reserves a pending record for a single replay and returns it.
	// At most one caller holds a claim until it is drained or released.
	Claim(ctx context.Context, id string) (domain.SpoolRecord, error)
	// Release returns a claimed record to pending.
	Release(ctx context.Context, id string) error
	// Drain marks a record delivered. Draining twice is not an error.
	Drain(ctx context.Context, id string) error
	Close() error
}

// Open returns the backend selected by cfg.
func Open(cfg config.SpoolConfig) (Spool, error) {
	switch cfg.Backend {
	case config.SpoolBackendFile, "":
		return NewFileSpool(cfg.Dir)
	case config.SpoolBackendSQLite:
		return OpenSQLite(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown spool backend %q", cfg.Backend)
	}
}

// Pending counts undrained records.
func Pending(ctx context.Context, s Spool) (int, error) {
	recs, err := s.List(ctx, ListOptions{})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// fileIDOf reads the file id out of a reward payload.
func fileIDOf(payload []byte) string {
	return gjson.GetBytes(payload, "fileId").String()
}
