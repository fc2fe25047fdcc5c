// Package audit provides the append-only trust log: one entry per
// resolution or anonymization decision. Writes are fire-and-forget from
// the engine's perspective; a failed write never blocks or fails the
// decision it records.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Entry is one append-only trust log record. Entries are never updated
// or deleted.
type Entry struct {
	ID             string            `json:"id"`
	Action         string            `json:"action"`
	SourceOrg      string            `json:"source_org"`
	TargetOrg      string            `json:"target_org"`
	RelationshipID string            `json:"relationship_id,omitempty"`
	GroupID        string            `json:"group_id,omitempty"`
	Actor          string            `json:"actor,omitempty"`
	IPAddress      string            `json:"ip_address,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	Success        bool              `json:"success"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Sink accepts trust log entries.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}

// Storage persists entries on behalf of the async service.
type Storage interface {
	Store(ctx context.Context, entry Entry) error
	Query(ctx context.Context, q Query) ([]Entry, error)
}

// Query filters stored entries.
type Query struct {
	SourceOrg string
	TargetOrg string
	Action    string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Service is a channel-buffered asynchronous Sink. Entries are appended
// in the order decisions are made within one caller; no ordering is
// guaranteed across concurrent callers.
type Service struct {
	storage  Storage
	entries  chan Entry
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once

	// onDrop is invoked when the buffer is full and an entry is lost.
	onDrop func()
}

// NewService creates an audit service draining into storage. Buffer is
// the channel capacity; 0 selects a default.
func NewService(storage Storage, buffer int) *Service {
	if buffer <= 0 {
		buffer = 1000
	}
	s := &Service{
		storage:  storage,
		entries:  make(chan Entry, buffer),
		shutdown: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processEntries()

	return s
}

// SetDropHandler registers a callback for dropped entries, typically a
// metrics counter. Must be called before the service is shared.
func (s *Service) SetDropHandler(fn func()) {
	s.onDrop = fn
}

// Append queues an entry without blocking. When the buffer is full the
// entry is dropped with a warning; losing an audit record must never
// stall an anonymization decision.
func (s *Service) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	select {
	case s.entries <- entry:
		return nil
	default:
		log.Warn().
			Str("entry_id", entry.ID).
			Str("action", entry.Action).
			Msg("Audit log buffer full, dropping entry")
		if s.onDrop != nil {
			s.onDrop()
		}
		return nil
	}
}

// Query reads back stored entries.
func (s *Service) Query(ctx context.Context, q Query) ([]Entry, error) {
	return s.storage.Query(ctx, q)
}

// Shutdown drains queued entries and stops the worker.
func (s *Service) Shutdown() {
	s.once.Do(func() {
		close(s.shutdown)
	})
	s.wg.Wait()
}

func (s *Service) processEntries() {
	defer s.wg.Done()

	for {
		select {
		case entry := <-s.entries:
			s.store(entry)
		case <-s.shutdown:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case entry := <-s.entries:
					s.store(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) store(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.storage.Store(ctx, entry); err != nil {
		log.Error().
			Err(err).
			Str("entry_id", entry.ID).
			Str("action", entry.Action).
			Msg("Failed to store audit entry")
	}
}
