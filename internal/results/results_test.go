package results

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/assessor/internal/kv"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/store"
)

type failingRemote struct{ err error }

func (f failingRemote) SaveResult(context.Context, model.ResultRecord) error { return f.err }
func (f failingRemote) GetResult(context.Context, string) (*model.ResultRecord, error) {
	return nil, f.err
}
func (f failingRemote) DeleteResult(context.Context, string) error { return f.err }

type brokenKV struct{}

func (brokenKV) Get(string) ([]byte, bool, error) { return nil, false, errors.New("disk full") }
func (brokenKV) Set(string, []byte) error         { return errors.New("disk full") }
func (brokenKV) Delete(string) error              { return errors.New("disk full") }
func (brokenKV) Keys(string) ([]string, error)    { return nil, errors.New("disk full") }

func newRemote(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id, owner string, at time.Time) model.ResultRecord {
	return model.ResultRecord{
		ID:          id,
		TestID:      "knowledge-quiz",
		OwnerID:     owner,
		Locale:      "en",
		Answers:     model.AnswerMap{"q1": model.TextAnswer("a")},
		Payload:     model.ResultPayload{Type: "good"},
		CompletedAt: at,
	}
}

func TestSaveWritesBoth(t *testing.T) {
	ctx := context.Background()
	local, remote := kv.NewMemory(), newRemote(t)
	s := New(local, remote)

	out := s.Save(ctx, record("r1", "alice@example.com", time.Now()))
	if !out.Local || !out.Remote || out.Degraded() {
		t.Fatalf("outcome = %+v", out)
	}
	if _, ok, _ := local.Get(model.ResultKey("r1")); !ok {
		t.Error("local copy missing")
	}
	if r, _ := remote.GetResult(ctx, "r1"); r == nil {
		t.Error("remote copy missing")
	}
}

func TestSaveAnonymousStaysLocal(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)
	s := New(kv.NewMemory(), remote)

	out := s.Save(ctx, record("r1", "", time.Now()))
	if !out.Local || out.Remote || !out.LocalOnly || out.Degraded() {
		t.Fatalf("outcome = %+v", out)
	}
	if r, _ := remote.GetResult(ctx, "r1"); r != nil {
		t.Error("anonymous result must not reach the remote store")
	}
	got, err := s.Get(ctx, "r1")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if got.OwnerID != model.AnonymousOwner {
		t.Errorf("owner = %q", got.OwnerID)
	}
}

func TestSaveRemoteFailureKeepsLocal(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemory(), failingRemote{errors.New("network down")})

	out := s.Save(ctx, record("r1", "alice@example.com", time.Now()))
	if !out.Local || out.Remote || !out.Degraded() {
		t.Fatalf("outcome = %+v", out)
	}
	got, err := s.Get(ctx, "r1")
	if err != nil || got == nil {
		t.Fatalf("result lost after remote failure: %v, %v", got, err)
	}
}

func TestSaveLocalFailureStillSyncs(t *testing.T) {
	ctx := context.Background()
	remote := newRemote(t)
	s := New(brokenKV{}, remote)

	out := s.Save(ctx, record("r1", "alice@example.com", time.Now()))
	if out.Local || !out.Remote || !out.Degraded() {
		t.Fatalf("outcome = %+v", out)
	}
	got, err := s.Get(ctx, "r1")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v", got, err)
	}
}

func TestFindLocal(t *testing.T) {
	s := New(kv.NewMemory(), nil)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s.Save(context.Background(), record("old", "alice@example.com", base))
	s.Save(context.Background(), record("new", "alice@example.com", base.Add(time.Hour)))
	s.Save(context.Background(), record("other", "bob@example.com", base.Add(2*time.Hour)))

	got, err := s.FindLocal(func(r model.ResultRecord) bool { return r.OwnerID == "alice@example.com" })
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "new" {
		t.Errorf("FindLocal = %+v, want newest of alice", got)
	}

	none, err := s.FindLocal(func(r model.ResultRecord) bool { return r.TestID == "personality" })
	if err != nil || none != nil {
		t.Errorf("FindLocal = %v, %v, want nil", none, err)
	}
}

func TestFindLocalSkipsCorrupt(t *testing.T) {
	local := kv.NewMemory()
	local.Set(model.ResultKey("bad"), []byte("{not json"))
	s := New(local, nil)
	s.Save(context.Background(), record("good", "", time.Now()))

	got, err := s.FindLocal(func(model.ResultRecord) bool { return true })
	if err != nil || got == nil || got.ID != "good" {
		t.Errorf("FindLocal = %+v, %v", got, err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	local, remote := kv.NewMemory(), newRemote(t)
	s := New(local, remote)
	s.Save(ctx, record("r1", "alice@example.com", time.Now()))

	if err := s.Delete(ctx, "r1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Get(ctx, "r1"); got != nil {
		t.Error("result still readable after delete")
	}
	if _, ok, _ := local.Get(model.ResultKey("r1")); ok {
		t.Error("local copy survived delete")
	}
}

func TestDeleteRemoteFailure(t *testing.T) {
	local := kv.NewMemory()
	s := New(local, failingRemote{errors.New("network down")})
	local.Set(model.ResultKey("r1"), []byte(`{"id":"r1"}`))

	if err := s.Delete(context.Background(), "r1"); err == nil {
		t.Error("expected remote delete error")
	}
	if _, ok, _ := local.Get(model.ResultKey("r1")); ok {
		t.Error("local copy should be removed even when remote fails")
	}
}
