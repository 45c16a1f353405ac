package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencehq/identity-service/internal/domain"
	"github.com/cadencehq/identity-service/internal/ports"
)

// AsyncAuditSink decouples audit persistence from the operations being
// audited. Record never blocks and never fails the caller: entries flow
// through a buffered channel into a background writer, and delivery problems
// are logged instead of propagated.
type AsyncAuditSink struct {
	logger  *slog.Logger
	repo    ports.AuditRepository
	entries chan domain.AuditEntry
	timeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	drained   chan struct{}

	mu      sync.Mutex
	dropped int64
}

// NewAsyncAuditSink creates a sink with the given buffer capacity.
func NewAsyncAuditSink(logger *slog.Logger, repo ports.AuditRepository, buffer int, writeTimeout time.Duration) *AsyncAuditSink {
	if buffer <= 0 {
		buffer = 1024
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &AsyncAuditSink{
		logger:  logger,
		repo:    repo,
		entries: make(chan domain.AuditEntry, buffer),
		timeout: writeTimeout,
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// Start launches the background writer. Safe to call once; Record before
// Start only buffers.
func (s *AsyncAuditSink) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Record enqueues the entry. A full buffer drops the entry and counts the
// drop; losing an audit line must never stall an authentication path.
func (s *AsyncAuditSink) Record(entry domain.AuditEntry) {
	select {
	case s.entries <- entry:
	default:
		s.mu.Lock()
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()
		s.logger.Warn("audit entry dropped, buffer full",
			"module", "events.audit_sink",
			"layer", "adapter",
			"operation", "audit_record",
			"outcome", "failure",
			"action", entry.Action,
			"dropped_total", dropped,
		)
	}
}

// Close stops intake and waits for buffered entries to flush.
func (s *AsyncAuditSink) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.drained
	})
}

// Dropped reports how many entries were discarded due to backpressure.
func (s *AsyncAuditSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *AsyncAuditSink) run() {
	defer close(s.drained)
	for {
		select {
		case entry := <-s.entries:
			s.write(entry)
		case <-s.done:
			for {
				select {
				case entry := <-s.entries:
					s.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *AsyncAuditSink) write(entry domain.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.repo.Insert(ctx, entry); err != nil {
		s.logger.Error("audit write failed",
			"module", "events.audit_sink",
			"layer", "adapter",
			"operation", "audit_write",
			"outcome", "failure",
			"action", entry.Action,
			"error", err,
		)
	}
}
