package snapshot

import (
	"context"
	"fmt"
	"time"
)

// Source is an object whose snapshot can be stored.
type Source interface {
	UUID() string
	Name() string
	Kind() string
	Snapshot(ctx context.Context, update bool) (map[string]any, error)
}

// MetadataHolder is an object whose metadata can be persisted.
type MetadataHolder interface {
	Name() string
	LoadMetadata(m map[string]any)
	Metadata() map[string]any
}

// Logger defines the logging interface used by the service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Service captures snapshots into a Repository.
type Service struct {
	repo   Repository
	logger Logger
}

// NewService creates a service storing into repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Repository returns the underlying repository.
func (s *Service) Repository() Repository { return s.repo }

// Capture takes src's snapshot and stores it.
func (s *Service) Capture(ctx context.Context, src Source, update bool) (Record, error) {
	data, err := src.Snapshot(ctx, update)
	if err != nil {
		return Record{}, fmt.Errorf("snapshot %q: %w", src.Name(), err)
	}
	rec := Record{
		InstrumentUUID: src.UUID(),
		InstrumentName: src.Name(),
		Kind:           src.Kind(),
		TakenAt:        time.Now(),
		Data:           data,
	}
	id, err := s.repo.Save(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	rec.ID = id
	return rec, nil
}

// CaptureAll captures every source, logging and skipping failures. It
// returns how many were stored.
func (s *Service) CaptureAll(ctx context.Context, srcs []Source, update bool) int {
	stored := 0
	for _, src := range srcs {
		if _, err := s.Capture(ctx, src, update); err != nil {
			s.logger.Warn("snapshot capture failed", "instrument", src.Name(), "error", err)
			continue
		}
		stored++
	}
	return stored
}

// Restore merges the stored metadata for h's name into h.
func (s *Service) Restore(ctx context.Context, h MetadataHolder) error {
	md, err := s.repo.LoadMetadata(ctx, h.Name())
	if err != nil {
		return fmt.Errorf("restore metadata for %q: %w", h.Name(), err)
	}
	if len(md) > 0 {
		h.LoadMetadata(md)
	}
	return nil
}

// Persist stores h's current metadata.
func (s *Service) Persist(ctx context.Context, h MetadataHolder) error {
	return s.repo.SaveMetadata(ctx, h.Name(), h.Metadata())
}

// Run captures the sources returned by list every interval until ctx is
// done. Snapshots older than retain are pruned after each round when
// retain is positive.
func (s *Service) Run(ctx context.Context, interval, retain time.Duration, list func() []Source) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := s.CaptureAll(ctx, list(), false)
		if retain > 0 {
			pruned, err := s.repo.Prune(ctx, time.Now().Add(-retain))
			if err != nil {
				s.logger.Warn("snapshot prune failed", "error", err)
			} else if pruned > 0 {
				s.logger.Info("snapshots pruned", "count", pruned)
			}
		}
		s.logger.Info("snapshots captured", "count", n)
	}
}
