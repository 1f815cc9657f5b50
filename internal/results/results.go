// Package results persists finished sessions: a device-local record is
// always written first, then the durable remote copy.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pavelanni/assessor/internal/kv"
	"github.com/pavelanni/assessor/internal/model"
)

// Remote is the durable result store.
type Remote interface {
	SaveResult(ctx context.Context, r model.ResultRecord) error
	GetResult(ctx context.Context, id string) (*model.ResultRecord, error)
	DeleteResult(ctx context.Context, id string) error
}

// Outcome reports where a saved result ended up.
type Outcome struct {
	Local  bool `json:"local"`
	Remote bool `json:"remote"`
	// LocalOnly is set for anonymous results, which never leave the device.
	LocalOnly bool `json:"local_only"`
}

// Degraded reports whether the user should be warned about the save.
func (o Outcome) Degraded() bool {
	return !o.Local || (!o.Remote && !o.LocalOnly)
}

// Store is the ResultStore.
type Store struct {
	local  kv.KV
	remote Remote
}

// New creates a result store. remote may be nil for a device-only setup.
func New(local kv.KV, remote Remote) *Store {
	return &Store{local: local, remote: remote}
}

// Save writes the record locally and then remotely. Neither failure is
// fatal; both are logged and reflected in the outcome.
func (s *Store) Save(ctx context.Context, r model.ResultRecord) Outcome {
	r.OwnerID = model.OwnerOrAnonymous(r.OwnerID)
	out := Outcome{LocalOnly: r.Anonymous() || s.remote == nil}

	if err := s.saveLocal(r); err != nil {
		slog.Warn("local result save failed", "result", r.ID, "error", err)
	} else {
		out.Local = true
	}
	if out.LocalOnly {
		return out
	}
	if err := s.remote.SaveResult(ctx, r); err != nil {
		slog.Warn("remote result save failed", "result", r.ID, "owner", r.OwnerID, "error", err)
		return out
	}
	out.Remote = true
	return out
}

// Get looks a result up remotely, then in the local fallback. It returns
// nil when neither has it.
func (s *Store) Get(ctx context.Context, id string) (*model.ResultRecord, error) {
	if s.remote != nil {
		r, err := s.remote.GetResult(ctx, id)
		if err != nil {
			slog.Warn("remote result lookup failed, trying local", "result", id, "error", err)
		} else if r != nil {
			return r, nil
		}
	}
	return s.GetLocal(id)
}

// GetLocal reads the device-local copy of a result, or nil.
func (s *Store) GetLocal(id string) (*model.ResultRecord, error) {
	data, ok, err := s.local.Get(model.ResultKey(id))
	if err != nil {
		return nil, fmt.Errorf("read local result %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	var r model.ResultRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode local result %s: %w", id, err)
	}
	return &r, nil
}

// FindLocal returns the newest device-local result that satisfies match.
// Unreadable records are skipped.
func (s *Store) FindLocal(match func(model.ResultRecord) bool) (*model.ResultRecord, error) {
	keys, err := s.local.Keys(model.ResultKey(""))
	if err != nil {
		return nil, fmt.Errorf("scan local results: %w", err)
	}
	var found []model.ResultRecord
	for _, k := range keys {
		r, err := s.GetLocal(strings.TrimPrefix(k, model.ResultKey("")))
		if err != nil {
			slog.Warn("skipping unreadable local result", "key", k, "error", err)
			continue
		}
		if r != nil && match(*r) {
			found = append(found, *r)
		}
	}
	if len(found) == 0 {
		return nil, nil
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].CompletedAt.After(found[j].CompletedAt)
	})
	return &found[0], nil
}

// Delete removes a result everywhere. Only a remote failure is returned;
// the local copy is removed regardless.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.local.Delete(model.ResultKey(id)); err != nil {
		slog.Warn("local result delete failed", "result", id, "error", err)
	}
	if s.remote == nil {
		return nil
	}
	if err := s.remote.DeleteResult(ctx, id); err != nil {
		return fmt.Errorf("delete result %s: %w", id, err)
	}
	return nil
}

func (s *Store) saveLocal(r model.ResultRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.local.Set(model.ResultKey(r.ID), data)
}
