// Package progress persists resumable snapshots of in-flight sessions.
//
// Storage failures never escape this package: a failed save is logged and
// a failed or corrupt load reads as "no saved progress".
package progress

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pavelanni/assessor/internal/kv"
	"github.com/pavelanni/assessor/internal/model"
)

// Store is the ProgressStore over a device-scoped KV.
type Store struct {
	kv  kv.KV
	now func() time.Time
}

// New returns a progress store. A nil now uses time.Now.
func New(store kv.KV, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{kv: store, now: now}
}

// Save overwrites the progress record of (testID, ownerID). It reports
// whether the record was persisted.
func (s *Store) Save(rec model.ProgressRecord) bool {
	rec.OwnerID = model.OwnerOrAnonymous(rec.OwnerID)
	rec.UpdatedAt = s.now()
	key := model.ProgressKey(rec.TestID, rec.OwnerID)
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("encode progress failed", "key", key, "error", err)
		return false
	}
	if err := s.kv.Set(key, data); err != nil {
		slog.Warn("save progress failed", "key", key, "error", err)
		return false
	}
	return true
}

// Load returns the saved record, or nil when there is none or it cannot be read.
func (s *Store) Load(testID, ownerID string) *model.ProgressRecord {
	key := model.ProgressKey(testID, ownerID)
	data, ok, err := s.kv.Get(key)
	if err != nil {
		slog.Warn("load progress failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var rec model.ProgressRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("corrupt progress record, ignoring", "key", key, "error", err)
		return nil
	}
	if rec.Answers == nil {
		rec.Answers = model.AnswerMap{}
	}
	if rec.Index < 0 || (rec.Total > 0 && rec.Index >= rec.Total) {
		slog.Warn("progress index out of range, ignoring", "key", key, "index", rec.Index, "total", rec.Total)
		return nil
	}
	return &rec
}

// Clear deletes the record. It reports whether the delete succeeded.
func (s *Store) Clear(testID, ownerID string) bool {
	key := model.ProgressKey(testID, ownerID)
	if err := s.kv.Delete(key); err != nil {
		slog.Warn("clear progress failed", "key", key, "error", err)
		return false
	}
	return true
}
