package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/internal/model"
)

const writeTimeout = 5 * time.Second

// Recorder accepts audit entries without blocking the request.
type Recorder interface {
	Record(entry model.AuditLog)
}

// AuditLogger queues entries and writes them from a single goroutine. When
// the queue is full the entry is dropped and counted.
type AuditLogger struct {
	service *Service
	entries chan model.AuditLog
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAuditLogger(service *Service, buffer int) *AuditLogger {
	if buffer <= 0 {
		buffer = 256
	}
	l := &AuditLogger{
		service: service,
		entries: make(chan model.AuditLog, buffer),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *AuditLogger) Record(entry model.AuditLog) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.entries <- entry:
	default:
		l.service.metrics.AuditWrites.WithLabelValues("dropped").Inc()
		log.Warn().
			Str("user_id", entry.UserID).
			Str("entity_type", entry.EntityType).
			Msg("audit queue full, entry dropped")
	}
}

// Close stops accepting entries and waits for the queue to drain.
func (l *AuditLogger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.entries)
	l.mu.Unlock()

	<-l.done
}

func (l *AuditLogger) run() {
	defer close(l.done)
	for entry := range l.entries {
		entry := entry
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := l.service.Log(ctx, &entry); err != nil {
			log.Error().Err(err).
				Str("user_id", entry.UserID).
				Str("action", entry.Action).
				Str("entity_type", entry.EntityType).
				Msg("failed to write audit log")
		}
		cancel()
	}
}
