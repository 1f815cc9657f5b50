// Package notify renders and sends invitation and joint-result emails.
//
// Delivery is best effort. Callers must not assume a message arrived and
// always show results on screen as well.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"golang.org/x/time/rate"

	"github.com/pavelanni/assessor/internal/model"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Transport delivers a rendered message.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

// LogTransport writes messages to the log instead of delivering them.
type LogTransport struct{}

func (LogTransport) Send(_ context.Context, m Message) error {
	slog.Info("email", "to", m.To, "subject", m.Subject, "bytes", len(m.HTML))
	return nil
}

// Invitation is the data of an invitation email.
type Invitation struct {
	ID          string
	TestID      string
	TestTitle   string
	To          string
	PartnerName string
	InviterName string
	Locale      string
}

// JointResult is the data of a joint-result email.
type JointResult struct {
	PairID      string
	ResultID    string
	TestTitle   string
	To          string
	PartnerName string
	Score       float64
	Locale      string
}

// Notifier renders messages and suppresses repeats within a cooldown.
type Notifier struct {
	transport Transport
	baseURL   string
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a notifier. A zero cooldown disables suppression; a nil now
// uses time.Now.
func New(t Transport, baseURL string, cooldown time.Duration, now func() time.Time) *Notifier {
	if now == nil {
		now = time.Now
	}
	return &Notifier{
		transport: t,
		baseURL:   strings.TrimRight(baseURL, "/"),
		cooldown:  cooldown,
		now:       now,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// SendInvitation emails the partner a link to the invitation.
func (n *Notifier) SendInvitation(ctx context.Context, inv Invitation) error {
	link := fmt.Sprintf("%s/tests/%s?invitation=%s", n.baseURL, url.PathEscape(inv.TestID), url.QueryEscape(inv.ID))
	data := map[string]any{
		"InviterName": inv.InviterName,
		"PartnerName": inv.PartnerName,
		"TestTitle":   inv.TestTitle,
	}
	return n.send(ctx, "invite:"+inv.ID+":"+inv.To, inv.To, invitationEmail(inv.Locale, data, link), inv.Locale, "email.invitation.subject", data)
}

// SendJointResult tells one party that the joint result is ready.
func (n *Notifier) SendJointResult(ctx context.Context, jr JointResult) error {
	link := fmt.Sprintf("%s/results/%s/compatibility", n.baseURL, url.PathEscape(jr.ResultID))
	data := map[string]any{
		"PartnerName": jr.PartnerName,
		"TestTitle":   jr.TestTitle,
		"Score":       jr.Score,
	}
	return n.send(ctx, "result:"+jr.PairID+":"+jr.To, jr.To, resultEmail(jr.Locale, data, link), jr.Locale, "email.result.subject", data)
}

func (n *Notifier) send(ctx context.Context, key, to string, body templ.Component, locale, subjectID string, data map[string]any) error {
	now := n.now()
	r := n.reserve(key, now)
	if r != nil && (!r.OK() || r.DelayFrom(now) > 0) {
		release(r, now)
		slog.Info("notification suppressed", "key", key)
		return model.ErrNotificationSuppressed
	}

	var buf bytes.Buffer
	if err := body.Render(ctx, &buf); err != nil {
		release(r, now)
		return fmt.Errorf("render email: %w", err)
	}
	m := Message{To: to, Subject: localize(locale, subjectID, data), HTML: buf.String()}
	if err := n.transport.Send(ctx, m); err != nil {
		// A failed delivery does not count against the cooldown.
		release(r, now)
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	return nil
}

// reserve takes the key's single token, or returns nil without a cooldown.
// Limiters whose cooldown has passed are dropped; a fresh one behaves the
// same.
func (n *Notifier) reserve(key string, now time.Time) *rate.Reservation {
	if n.cooldown <= 0 {
		return nil
	}
	n.mu.Lock()
	for k, lim := range n.limiters {
		if lim.TokensAt(now) >= 1 {
			delete(n.limiters, k)
		}
	}
	lim, ok := n.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(n.cooldown), 1)
		n.limiters[key] = lim
	}
	n.mu.Unlock()
	return lim.ReserveN(now, 1)
}

func release(r *rate.Reservation, now time.Time) {
	if r != nil {
		r.CancelAt(now)
	}
}
