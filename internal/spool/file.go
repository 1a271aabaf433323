package spool

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"tweetproof/internal/domain"
)

// claimPrefix marks a record held by a replay. Renaming is the claim.
const claimPrefix = ".replaying-"

// FileSpool stores one file per record, named by a time-based UUID and
// holding the exact request body.
type FileSpool struct {
	Dir string

	sync func(dir string) error
}

func NewFileSpool(dir string) (*FileSpool, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("spool dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &FileSpool{Dir: dir}, nil
}

// Put writes to a temp file first so a crash never leaves a partial record
// under a valid id.
func (s *FileSpool) Put(_ context.Context, fileID string, payload []byte) (domain.SpoolRecord, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return domain.SpoolRecord{}, err
	}
	tmp, err := os.CreateTemp(s.Dir, ".tmp-*")
	if err != nil {
		return domain.SpoolRecord{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return domain.SpoolRecord{}, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.SpoolRecord{}, err
	}
	if err := tmp.Close(); err != nil {
		return domain.SpoolRecord{}, err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, id.String())); err != nil {
		return domain.SpoolRecord{}, err
	}
	if err := s.syncDir(); err != nil {
		return domain.SpoolRecord{}, fmt.Errorf("sync spool dir: %w", err)
	}
	if fileID == "" {
		fileID = fileIDOf(payload)
	}
	return domain.SpoolRecord{
		ID:        id.String(),
		FileID:    fileID,
		CreatedAt: createdAt(id, time.Now()),
		Payload:   slices.Clone(payload),
	}, nil
}

// List skips temp files and anything that is not a UUID-named JSON record.
// Claimed records are listed with ReplayingAt set.
func (s *FileSpool) List(ctx context.Context, _ ListOptions) ([]domain.SpoolRecord, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.SpoolRecord{}, nil
		}
		return nil, err
	}
	res := []domain.SpoolRecord{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimPrefix(e.Name(), claimPrefix)
		if _, err := uuid.Parse(name); err != nil {
			continue
		}
		rec, err := s.Get(ctx, name)
		if err != nil {
			continue
		}
		res = append(res, rec)
	}
	slices.SortFunc(res, func(a, b domain.SpoolRecord) int {
		if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

func (s *FileSpool) Get(_ context.Context, id string) (domain.SpoolRecord, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.SpoolRecord{}, ErrNotFound
	}
	rec, err := s.read(parsed, s.path(parsed))
	if errors.Is(err, ErrNotFound) {
		rec, err = s.read(parsed, s.claimPath(parsed))
		if err == nil {
			rec.ReplayingAt = rec.modTime
		}
	}
	return rec.SpoolRecord, err
}

type fileRecord struct {
	domain.SpoolRecord
	modTime *string
}

func (s *FileSpool) read(id uuid.UUID, path string) (fileRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileRecord{}, ErrNotFound
		}
		return fileRecord{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileRecord{}, ErrNotFound
		}
		return fileRecord{}, err
	}
	if !json.Valid(data) {
		return fileRecord{}, fmt.Errorf("spool record %s is not valid JSON", id)
	}
	mod := info.ModTime().UTC().Format(TimeLayout)
	return fileRecord{
		SpoolRecord: domain.SpoolRecord{
			ID:        id.String(),
			FileID:    fileIDOf(data),
			CreatedAt: createdAt(id, info.ModTime()),
			Payload:   data,
		},
		modTime: &mod,
	}, nil
}

// Claim renames the record to its claim name. Only one rename of the same
// source can succeed, so only one replay holds the record.
func (s *FileSpool) Claim(_ context.Context, id string) (domain.SpoolRecord, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.SpoolRecord{}, ErrNotFound
	}
	claimed := s.claimPath(parsed)
	if err := os.Rename(s.path(parsed), claimed); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return domain.SpoolRecord{}, err
		}
		if _, statErr := os.Stat(claimed); statErr == nil {
			return domain.SpoolRecord{}, ErrClaimed
		}
		return domain.SpoolRecord{}, ErrNotFound
	}
	now := time.Now()
	if err := os.Chtimes(claimed, now, now); err != nil {
		return domain.SpoolRecord{}, errors.Join(err, s.release(parsed))
	}
	if err := s.syncDir(); err != nil {
		return domain.SpoolRecord{}, errors.Join(fmt.Errorf("sync spool dir: %w", err), s.release(parsed))
	}
	rec, err := s.read(parsed, claimed)
	if err != nil {
		return domain.SpoolRecord{}, errors.Join(err, s.release(parsed))
	}
	rec.ReplayingAt = rec.modTime
	return rec.SpoolRecord, nil
}

// Release renames a claimed record back to its id.
func (s *FileSpool) Release(_ context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	return s.release(parsed)
}

func (s *FileSpool) release(id uuid.UUID) error {
	if err := os.Rename(s.claimPath(id), s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return s.syncDir()
}

func (s *FileSpool) Drain(_ context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	for _, path := range []string{s.path(parsed), s.claimPath(parsed)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return s.syncDir()
}

func (s *FileSpool) Close() error { return nil }

func (s *FileSpool) path(id uuid.UUID) string {
	return filepath.Join(s.Dir, id.String())
}

func (s *FileSpool) claimPath(id uuid.UUID) string {
	return filepath.Join(s.Dir, claimPrefix+id.String())
}

// syncDir flushes renames and removals in the spool directory to disk.
func (s *FileSpool) syncDir() error {
	if s.sync != nil {
		return s.sync(s.Dir)
	}
	return fsyncDir(s.Dir)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// createdAt uses the timestamp embedded in version 1 ids and falls back
// otherwise.
func createdAt(id uuid.UUID, fallback time.Time) string {
	if id.Version() == 1 {
		sec, nsec := id.Time().UnixTime()
		return time.Unix(sec, nsec).UTC().Format(TimeLayout)
	}
	return fallback.UTC().Format(TimeLayout)
}
