package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/kv"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/notify"
	"github.com/pavelanni/assessor/internal/questions"
	"github.com/pavelanni/assessor/internal/results"
	"github.com/pavelanni/assessor/internal/store"
)

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

type outbox struct{ sent []notify.Message }

func (o *outbox) Send(_ context.Context, m notify.Message) error {
	o.sent = append(o.sent, m)
	return nil
}

func (o *outbox) to(addr string) int {
	n := 0
	for _, m := range o.sent {
		if m.To == addr {
			n++
		}
	}
	return n
}

// flakyRemote fails selected writes of an otherwise working store.
type flakyRemote struct {
	*store.Store
	failUpsert bool
	failCreate bool
}

func (f *flakyRemote) UpsertCompatibility(ctx context.Context, owner string, c model.CompatibilityResult) error {
	if f.failUpsert {
		return errors.New("remote unavailable")
	}
	return f.Store.UpsertCompatibility(ctx, owner, c)
}

func (f *flakyRemote) CreateInvitation(ctx context.Context, inv model.InvitationRecord) error {
	if f.failCreate {
		return errors.New("remote unavailable")
	}
	return f.Store.CreateInvitation(ctx, inv)
}

type env struct {
	svc     *Service
	remote  *flakyRemote
	local   *kv.Memory
	results *results.Store
	outbox  *outbox
	def     model.TestDefinition
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	catalog, err := questions.DefaultCatalog()
	if err != nil {
		t.Fatal(err)
	}
	def, err := catalog.Definition("couple-compatibility", "en")
	if err != nil {
		t.Fatal(err)
	}

	e := &env{
		remote: &flakyRemote{Store: db},
		local:  kv.NewMemory(),
		outbox: &outbox{},
		def:    def,
		now:    time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return e.now }
	e.results = results.New(e.local, e.remote)
	notifier := notify.New(e.outbox, "https://assessor.example.com", 10*time.Minute, clock)
	e.svc = New(e.remote, e.results, e.local, notifier, catalog, clock)
	n := 0
	e.svc.newID = func() string {
		n++
		return fmt.Sprintf("inv-%d", n)
	}
	return e
}

func answers(values ...string) model.AnswerMap {
	m := model.AnswerMap{}
	for i, v := range values {
		id := fmt.Sprintf("c%d", i+1)
		switch v {
		case "":
		case "null":
			m[id] = model.NullAnswer()
		default:
			m[id] = model.TextAnswer(v)
		}
	}
	return m
}

func (e *env) saveResult(t *testing.T, id, owner, name string, a model.AnswerMap) model.ResultRecord {
	t.Helper()
	r := model.ResultRecord{
		ID:          id,
		TestID:      e.def.ID,
		OwnerID:     owner,
		DisplayName: name,
		Locale:      "en",
		Answers:     a,
		CompletedAt: e.now,
	}
	e.results.Save(context.Background(), r)
	r.OwnerID = model.OwnerOrAnonymous(owner)
	return r
}

func (e *env) partyA(t *testing.T) (model.ResultRecord, *model.InvitationRecord) {
	t.Helper()
	a := e.saveResult(t, "result-a", "alex@example.com", "Alex",
		answers("trust", "very", "adventure", "early", "talk_now", "words", "city", "yes"))
	inv, notified, err := e.svc.Invite(context.Background(), InviteRequest{
		Result:       a,
		Test:         e.def,
		InviterEmail: "Alex@Example.com",
		PartnerEmail: "partner@example.com",
		PartnerName:  "Sam",
	})
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if !notified {
		t.Error("invitation email should have been sent")
	}
	return a, inv
}

func (e *env) partyB(t *testing.T, id string) model.ResultRecord {
	t.Helper()
	return e.saveResult(t, id, "", "Sam",
		answers("security", "very", "home", "flexible", "talk_now", "gifts", "", "null"))
}

// remoteSnapshots counts the parties holding a remote copy of a joint result.
func (e *env) remoteSnapshots(t *testing.T, pairID string) int {
	t.Helper()
	n := 0
	for _, email := range []string{"alex@example.com", "partner@example.com"} {
		c, err := e.remote.GetCompatibility(context.Background(), email, pairID)
		if err != nil {
			t.Fatalf("GetCompatibility(%s): %v", email, err)
		}
		if c != nil {
			n++
		}
	}
	return n
}

func TestInvite(t *testing.T) {
	e := newEnv(t)
	_, inv := e.partyA(t)

	if inv.Origin.InviterEmail != "alex@example.com" {
		t.Errorf("inviter email not normalized: %q", inv.Origin.InviterEmail)
	}
	if inv.Completion.Status != model.InvitationPending {
		t.Errorf("status = %q", inv.Completion.Status)
	}
	stored, err := e.remote.GetInvitation(context.Background(), inv.ID)
	if err != nil || stored == nil {
		t.Fatalf("remote invitation missing: %v", err)
	}
	if _, ok, _ := e.local.Get(model.InvitationKey(inv.ID)); !ok {
		t.Error("invitation not cached locally")
	}
	if e.outbox.to("partner@example.com") != 1 {
		t.Errorf("partner got %d emails", e.outbox.to("partner@example.com"))
	}
}

func TestInviteValidation(t *testing.T) {
	e := newEnv(t)
	a := e.saveResult(t, "result-a", "alex@example.com", "", answers("trust"))
	ctx := context.Background()

	quiz := model.TestDefinition{ID: "knowledge-quiz", Strategy: model.StrategyAnswerKey}
	_, _, err := e.svc.Invite(ctx, InviteRequest{Result: a, Test: quiz, InviterEmail: "alex@example.com", PartnerEmail: "p@example.com"})
	if !errors.Is(err, model.ErrNotTwoParty) {
		t.Errorf("err = %v, want ErrNotTwoParty", err)
	}

	for _, bad := range []string{"", "not-an-email", "Sam <sam@example.com>"} {
		_, _, err := e.svc.Invite(ctx, InviteRequest{Result: a, Test: e.def, InviterEmail: "alex@example.com", PartnerEmail: bad})
		if !errors.Is(err, model.ErrInvalidEmail) {
			t.Errorf("partner %q: err = %v, want ErrInvalidEmail", bad, err)
		}
	}
}

func TestInviteKeptLocallyWhenRemoteFails(t *testing.T) {
	e := newEnv(t)
	e.remote.failCreate = true
	_, inv := e.partyA(t)

	got, err := e.svc.Invitation(context.Background(), inv.ID)
	if err != nil || got == nil {
		t.Fatalf("invitation lost: %v", err)
	}
}

func TestVerify(t *testing.T) {
	e := newEnv(t)
	_, inv := e.partyA(t)
	ctx := context.Background()

	if _, err := e.svc.Verify(ctx, inv.ID, "wrong@example.com"); !errors.Is(err, model.ErrInvitationVerification) {
		t.Fatalf("wrong email: err = %v, want ErrInvitationVerification", err)
	}
	// The failure is retryable: the invitation is untouched.
	for _, email := range []string{"partner@example.com", " PARTNER@example.com ", "alex@example.com"} {
		got, err := e.svc.Verify(ctx, inv.ID, email)
		if err != nil {
			t.Errorf("Verify(%q): %v", email, err)
			continue
		}
		if got.ID != inv.ID {
			t.Errorf("Verify returned %q", got.ID)
		}
	}
	if _, err := e.svc.Verify(ctx, inv.ID, ""); !errors.Is(err, model.ErrInvitationVerification) {
		t.Errorf("empty email: err = %v", err)
	}
	if _, err := e.svc.Verify(ctx, "nope", "partner@example.com"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown invitation: err = %v", err)
	}
}

func TestCompleteJoinsResults(t *testing.T) {
	e := newEnv(t)
	a, inv := e.partyA(t)
	b := e.partyB(t, "result-b")
	ctx := context.Background()

	out, err := e.svc.Complete(ctx, inv.ID, b, e.def.Questions)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	c := out.Joint
	if c == nil {
		t.Fatal("expected joint result")
	}
	if out.Source != "reference" {
		t.Errorf("source = %q", out.Source)
	}
	if c.FirstResultID != a.ID || c.SecondResultID != b.ID || c.PairID != inv.ID {
		t.Errorf("ids = %s/%s/%s", c.FirstResultID, c.SecondResultID, c.PairID)
	}

	want := map[string]model.MatchTier{
		"c1": model.TierCompatible,
		"c2": model.TierExact,
		"c3": model.TierDifferent,
		"c4": model.TierCompatible,
		"c5": model.TierExact,
		"c6": model.TierDifferent,
	}
	if len(c.Comparisons) != len(want) {
		t.Fatalf("comparisons = %d, want %d", len(c.Comparisons), len(want))
	}
	var points float64
	for _, cmp := range c.Comparisons {
		if cmp.Tier != want[cmp.QuestionID] {
			t.Errorf("%s: tier %s, want %s", cmp.QuestionID, cmp.Tier, want[cmp.QuestionID])
		}
		switch cmp.Tier {
		case model.TierExact:
			points++
		case model.TierCompatible:
			points += 0.5
		}
	}
	if wantScore := points / float64(len(c.Comparisons)) * 100; c.Score != wantScore {
		t.Errorf("score = %v, want %v", c.Score, wantScore)
	}

	if n := e.remoteSnapshots(t, inv.ID); n != 2 {
		t.Errorf("remote snapshots = %d, want one per party", n)
	}
	for _, email := range []string{"alex@example.com", "partner@example.com"} {
		if _, ok, _ := e.local.Get(model.CompatibilityKey(email, inv.ID)); !ok {
			t.Errorf("no local joint result for %s", email)
		}
		if got, err := e.svc.LookupForEmail(ctx, email, inv.ID); err != nil || got.Score != c.Score {
			t.Errorf("LookupForEmail(%s) = %v, %v", email, got, err)
		}
	}

	stored, _ := e.remote.GetInvitation(ctx, inv.ID)
	if stored.Completion.Status != model.InvitationCompleted || stored.Completion.PartnerResultID != b.ID {
		t.Errorf("completion = %+v", stored.Completion)
	}
	if stored.Origin.ResultID != a.ID || stored.Origin.InviterEmail != "alex@example.com" {
		t.Errorf("origin was modified: %+v", stored.Origin)
	}
	if e.outbox.to("alex@example.com") != 1 || e.outbox.to("partner@example.com") != 2 {
		t.Errorf("emails: alex=%d partner=%d", e.outbox.to("alex@example.com"), e.outbox.to("partner@example.com"))
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	e := newEnv(t)
	_, inv := e.partyA(t)
	b := e.partyB(t, "result-b")
	ctx := context.Background()

	first, err := e.svc.Complete(ctx, inv.ID, b, e.def.Questions)
	if err != nil {
		t.Fatal(err)
	}
	e.now = e.now.Add(time.Minute)
	second, err := e.svc.Complete(ctx, inv.ID, b, e.def.Questions)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if second.Joint.Score != first.Joint.Score {
		t.Errorf("score changed: %v -> %v", first.Joint.Score, second.Joint.Score)
	}
	if n := e.remoteSnapshots(t, inv.ID); n != 2 {
		t.Errorf("snapshots = %d, want 2 after rerun", n)
	}
	// Result emails within the cooldown are suppressed.
	if got := e.outbox.to("alex@example.com"); got != 1 {
		t.Errorf("inviter got %d result emails, want 1", got)
	}
}

func TestCompleteByAnotherPartnerIsRejected(t *testing.T) {
	e := newEnv(t)
	_, inv := e.partyA(t)
	ctx := context.Background()

	if _, err := e.svc.Complete(ctx, inv.ID, e.partyB(t, "result-b"), e.def.Questions); err != nil {
		t.Fatal(err)
	}
	other := e.partyB(t, "result-c")
	if _, err := e.svc.Complete(ctx, inv.ID, other, e.def.Questions); !errors.Is(err, model.ErrInvitationConsumed) {
		t.Errorf("err = %v, want ErrInvitationConsumed", err)
	}
	if _, err := e.svc.Verify(ctx, inv.ID, "partner@example.com"); !errors.Is(err, model.ErrInvitationConsumed) {
		t.Errorf("Verify after completion: err = %v", err)
	}
}

func TestCompleteWithoutInviterAnswers(t *testing.T) {
	e := newEnv(t)
	a, inv := e.partyA(t)
	ctx := context.Background()
	if err := e.results.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	b := e.partyB(t, "result-b")

	out, err := e.svc.Complete(ctx, inv.ID, b, e.def.Questions)
	if !errors.Is(err, model.ErrRendezvousIncomplete) {
		t.Fatalf("err = %v, want ErrRendezvousIncomplete", err)
	}
	if out.Joint != nil {
		t.Error("no joint result expected")
	}
	if out.Invitation.Completion.Status != model.InvitationUnmatched {
		t.Errorf("status = %q", out.Invitation.Completion.Status)
	}
	if got, _ := e.results.Get(ctx, b.ID); got == nil {
		t.Error("partner result must survive an incomplete rendezvous")
	}

	// The invitation can be completed later once the answers reappear.
	e.saveResult(t, a.ID, "alex@example.com", "Alex", a.Answers)
	if out, err := e.svc.Complete(ctx, inv.ID, b, e.def.Questions); err != nil || out.Joint == nil {
		t.Errorf("retry: %v", err)
	}
}

func TestCompleteFindsInviterWithoutReference(t *testing.T) {
	tests := []struct {
		name       string
		localOnly  bool
		wantSource string
	}{
		{name: "remote owner lookup", wantSource: "owner"},
		{name: "local scan", localOnly: true, wantSource: "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			a := e.saveResult(t, "result-a", "alex@example.com", "Alex",
				answers("trust", "very", "adventure", "early", "talk_now", "words", "city", "yes"))
			if tt.localOnly {
				if err := e.remote.DeleteResult(ctx, a.ID); err != nil {
					t.Fatal(err)
				}
			}
			// The invitation lost its direct reference.
			a.ID = ""
			inv, _, err := e.svc.Invite(ctx, InviteRequest{
				Result: a, Test: e.def, InviterEmail: "alex@example.com", PartnerEmail: "partner@example.com",
			})
			if err != nil {
				t.Fatal(err)
			}

			out, err := e.svc.Complete(ctx, inv.ID, e.partyB(t, "result-b"), e.def.Questions)
			if err != nil {
				t.Fatal(err)
			}
			if out.Source != tt.wantSource || out.Joint.FirstResultID != "result-a" {
				t.Errorf("source = %q, first = %q", out.Source, out.Joint.FirstResultID)
			}
		})
	}
}

func TestUnmatchedInvitationIsConsumed(t *testing.T) {
	e := newEnv(t)
	a, inv := e.partyA(t)
	ctx := context.Background()
	if err := e.results.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	b := e.partyB(t, "result-b")
	if _, err := e.svc.Complete(ctx, inv.ID, b, e.def.Questions); !errors.Is(err, model.ErrRendezvousIncomplete) {
		t.Fatalf("err = %v, want ErrRendezvousIncomplete", err)
	}
	e.saveResult(t, a.ID, "alex@example.com", "Alex", a.Answers)

	if _, err := e.svc.Verify(ctx, inv.ID, "partner@example.com"); !errors.Is(err, model.ErrInvitationConsumed) {
		t.Errorf("Verify of an unmatched invitation: err = %v", err)
	}
	if _, err := e.svc.Resend(ctx, inv.ID, e.def.Title, "Alex"); !errors.Is(err, model.ErrInvitationConsumed) {
		t.Errorf("Resend of an unmatched invitation: err = %v", err)
	}
	if _, err := e.svc.Complete(ctx, inv.ID, e.partyB(t, "result-c"), e.def.Questions); !errors.Is(err, model.ErrInvitationConsumed) {
		t.Errorf("Complete by another partner: err = %v", err)
	}
	stored, _ := e.remote.GetInvitation(ctx, inv.ID)
	if stored.Completion.PartnerResultID != b.ID {
		t.Errorf("partner result = %q, want %q", stored.Completion.PartnerResultID, b.ID)
	}

	out, err := e.svc.Complete(ctx, inv.ID, b, e.def.Questions)
	if err != nil || out.Joint == nil || out.Joint.SecondResultID != b.ID {
		t.Errorf("retry by the same partner: %+v, %v", out.Joint, err)
	}
}

func TestInviteReusesPendingInvitation(t *testing.T) {
	e := newEnv(t)
	a, inv := e.partyA(t)
	ctx := context.Background()
	req := InviteRequest{Result: a, Test: e.def, InviterEmail: "alex@example.com", PartnerEmail: "PARTNER@example.com"}

	for i := 0; i < 3; i++ {
		again, notified, err := e.svc.Invite(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if again.ID != inv.ID {
			t.Errorf("invite %d created %s, want %s", i, again.ID, inv.ID)
		}
		if notified {
			t.Errorf("invite %d was emailed within the cooldown", i)
		}
	}
	if got := e.outbox.to("partner@example.com"); got != 1 {
		t.Errorf("partner got %d invitations, want 1", got)
	}
	list, _ := e.remote.InvitationsForResult(ctx, a.ID)
	if len(list) != 1 {
		t.Errorf("stored invitations = %d, want 1", len(list))
	}

	req.PartnerEmail = "other@example.com"
	other, notified, err := e.svc.Invite(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == inv.ID || !notified {
		t.Errorf("second partner: id %s notified %v", other.ID, notified)
	}

	e.now = e.now.Add(11 * time.Minute)
	req.PartnerEmail = "partner@example.com"
	if _, notified, _ := e.svc.Invite(ctx, req); !notified {
		t.Error("re-invite after the cooldown should be emailed")
	}
}

func TestInviteReusesLocallyKeptInvitation(t *testing.T) {
	e := newEnv(t)
	e.remote.failCreate = true
	a, inv := e.partyA(t)

	again, _, err := e.svc.Invite(context.Background(), InviteRequest{
		Result: a, Test: e.def, InviterEmail: "alex@example.com", PartnerEmail: "partner@example.com",
	})
	if err != nil || again.ID != inv.ID {
		t.Errorf("Invite = %v, %v; want the locally kept %s", again, err, inv.ID)
	}
}

func TestJointResultSurvivesRemoteFailure(t *testing.T) {
	e := newEnv(t)
	_, inv := e.partyA(t)
	e.remote.failUpsert = true
	ctx := context.Background()

	if _, err := e.svc.Complete(ctx, inv.ID, e.partyB(t, "result-b"), e.def.Questions); err != nil {
		t.Fatal(err)
	}
	for _, email := range []string{"alex@example.com", "partner@example.com"} {
		if _, err := e.svc.LookupForEmail(ctx, email, inv.ID); err != nil {
			t.Errorf("%s cannot read the joint result: %v", email, err)
		}
	}
	got, err := e.svc.Lookup(ctx, "result-b")
	if err != nil || got == nil {
		t.Errorf("Lookup via local snapshot: %v", err)
	}
}

func TestLookup(t *testing.T) {
	e := newEnv(t)
	a, inv := e.partyA(t)
	b := e.partyB(t, "result-b")
	ctx := context.Background()
	out, err := e.svc.Complete(ctx, inv.ID, b, e.def.Questions)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, err := e.svc.Lookup(ctx, id)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", id, err)
		}
		if got.Score != out.Joint.Score || len(got.Comparisons) != len(out.Joint.Comparisons) {
			t.Errorf("recomputed result differs: %v vs %v", got.Score, out.Joint.Score)
		}
	}

	// With one side deleted the cached snapshot is served.
	if err := e.results.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	got, err := e.svc.Lookup(ctx, b.ID)
	if err != nil || got.Score != out.Joint.Score {
		t.Errorf("snapshot lookup = %v, %v", got, err)
	}

	if _, err := e.svc.Lookup(ctx, "unknown"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResend(t *testing.T) {
	e := newEnv(t)
	_, inv := e.partyA(t)
	ctx := context.Background()

	sent, err := e.svc.Resend(ctx, inv.ID, e.def.Title, "Alex")
	if err != nil {
		t.Fatal(err)
	}
	if sent {
		t.Error("resend within cooldown should be suppressed")
	}
	e.now = e.now.Add(11 * time.Minute)
	if sent, _ := e.svc.Resend(ctx, inv.ID, e.def.Title, "Alex"); !sent {
		t.Error("resend after cooldown should be delivered")
	}
	if got := e.outbox.to("partner@example.com"); got != 2 {
		t.Errorf("partner got %d invitations, want 2", got)
	}
}
