package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"milestage-backend/internal/supabase"
)

var ErrArchiveDisabled = errors.New("event archive is not configured")

// EventStorage is the object store holding raw webhook payloads.
type EventStorage interface {
	ArchiveEvent(eventID string, payload []byte) (string, error)
	FetchEvent(eventID string) ([]byte, error)
}

const defaultMaxUploads = 8

// StorageService keeps a copy of every authenticated webhook payload so an
// event can be replayed after a processing bug is fixed.
type StorageService struct {
	storage EventStorage
	logger  *zap.Logger
	slots   chan struct{}
	uploads sync.WaitGroup
}

type StorageOption func(*StorageService)

// WithMaxUploads caps concurrent archive uploads. A stalled bucket can hold
// at most n goroutines.
func WithMaxUploads(n int) StorageOption {
	return func(s *StorageService) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

func NewStorageService(storage EventStorage, logger *zap.Logger, opts ...StorageOption) *StorageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &StorageService{
		storage: storage,
		logger:  logger,
		slots:   make(chan struct{}, defaultMaxUploads),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Archive uploads the payload in the background and returns immediately.
// The storage client cannot be cancelled, so when every upload slot is held
// the payload is dropped with a warning.
func (s *StorageService) Archive(eventID string, payload []byte) {
	if s.storage == nil {
		return
	}
	select {
	case s.slots <- struct{}{}:
	default:
		s.logger.Warn("Event archive saturated, skipping upload",
			zap.String("event_id", eventID),
			zap.Int("in_flight", cap(s.slots)),
		)
		return
	}

	s.uploads.Add(1)
	go func() {
		defer s.uploads.Done()
		defer func() { <-s.slots }()
		s.upload(eventID, payload)
	}()
}

// Wait blocks until in-flight uploads finish or ctx is done.
func (s *StorageService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.uploads.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StorageService) upload(eventID string, payload []byte) {
	path, err := s.storage.ArchiveEvent(eventID, payload)
	if err != nil {
		s.logger.Warn("Failed to archive webhook event",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("Webhook event archived",
		zap.String("event_id", eventID),
		zap.String("path", path),
	)
}

// Fetch loads an archived payload for replay.
func (s *StorageService) Fetch(eventID string) ([]byte, error) {
	if s.storage == nil {
		return nil, ErrArchiveDisabled
	}
	payload, err := s.storage.FetchEvent(eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archived event %s: %w", eventID, err)
	}
	return payload, nil
}

var _ EventStorage = (*supabase.StorageClient)(nil)
