package db

import (
	"database/sql"
	"sync"

	"github.com/sirupsen/logrus"
)

// Journal records bot events under a single process.started root. A nil
// *Journal is valid and records nothing.
type Journal struct {
	db     *sql.DB
	logger logrus.FieldLogger

	mu     sync.Mutex
	rootID *int64
}

// NewJournal wraps an initialised database.
func NewJournal(database *sql.DB, logger logrus.FieldLogger) *Journal {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Journal{db: database, logger: logger.WithField("component", "journal")}
}

// Start writes the process.started root event; later events hang off it.
func (j *Journal) Start(payload map[string]any) int64 {
	if j == nil {
		return 0
	}
	id, err := LogEvent(j.db, nil, EventProcessStarted, payload)
	if err != nil {
		j.logger.WithError(err).Warn("failed to log process.started")
		return 0
	}
	j.mu.Lock()
	j.rootID = &id
	j.mu.Unlock()
	return id
}

// Record writes an event under the process root. Failures are logged, never
// returned: the journal must not interrupt message handling.
func (j *Journal) Record(eventType string, payload map[string]any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	parent := j.rootID
	j.mu.Unlock()
	if _, err := LogEvent(j.db, parent, eventType, payload); err != nil {
		j.logger.WithError(err).WithField("event_type", eventType).Warn("failed to record event")
	}
}
