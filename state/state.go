package state

import (
	"encoding/json"
	"os"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/candree7-rgb/Systemic.Systems/models"
)

// Cursor is the persisted poll progress: the largest fully processed message
// id and the time of the most recent dispatch attempt.
type Cursor struct {
	LastID           models.MessageID `json:"last_id"`
	LastDispatchTime float64          `json:"last_dispatch_time"`
}

// Advance raises LastID to id. Regressions are ignored: LastID is
// monotonically non-decreasing for the life of the process and across
// restarts.
func (c *Cursor) Advance(id models.MessageID) {
	if id.After(c.LastID) {
		c.LastID = id
	}
}

// MarkDispatch records t as the most recent dispatch attempt.
func (c *Cursor) MarkDispatch(t time.Time) {
	c.LastDispatchTime = float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// SinceDispatch returns the elapsed time between the last dispatch and now.
func (c Cursor) SinceDispatch(now time.Time) time.Duration {
	sec := int64(c.LastDispatchTime)
	nsec := int64((c.LastDispatchTime - float64(sec)) * 1e9)
	return now.Sub(time.Unix(sec, nsec))
}

// Store persists the cursor as a single JSON document, replaced atomically
// on every save so a crash mid-write never leaves a corrupt file.
type Store struct {
	path   string
	logger *zap.Logger
}

func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load reads the persisted cursor. Missing, unreadable or corrupt state
// yields a zero cursor; the poll loop will re-seed from the channel.
func (s *Store) Load() Cursor {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state file unreadable, starting fresh", zap.Error(err))
		}
		return Cursor{}
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("state file corrupt, starting fresh", zap.Error(err))
		return Cursor{}
	}
	return c
}

// Save writes the cursor to a temporary file and renames it over the
// durable path in one step.
func (s *Store) Save(c Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal cursor")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write temp state")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replace state file")
	}
	return nil
}
