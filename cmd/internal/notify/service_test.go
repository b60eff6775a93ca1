package notify

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	v1 "carelink/contracts/realtime/v1"
	"carelink/cmd/internal/realtime"
)

type countingMetrics struct {
	pushed   atomic.Int64
	deferred atomic.Int64
	dropped  atomic.Int64
}

func (m *countingMetrics) NotificationPushed()   { m.pushed.Add(1) }
func (m *countingMetrics) NotificationDeferred() { m.deferred.Add(1) }
func (m *countingMetrics) NotificationDropped()  { m.dropped.Add(1) }

func newTestService(t *testing.T, hooks ...Hook) *Service {
	t.Helper()
	resolvers := ResolverSet{
		"patient":          StaticResolver(),
		"clinician":        StaticResolver(),
		"care_coordinator": StaticResolver(),
	}
	return NewService(NewMemoryStore(), resolvers, hooks, nil)
}

func dispatchInput(now time.Time) DispatchInput {
	return DispatchInput{
		RecipientRole: "patient",
		RecipientRef:  "id-patient-1",
		Type:          "appointment.reminder",
		Title:         "Upcoming appointment",
		Body:          "Tomorrow at 9:00",
		EntityKind:    "appointment",
		EntityID:      "appt-42",
		Priority:      PriorityHigh,
		Now:           now,
	}
}

func TestDispatch_PersistsUnread(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	n, err := svc.Dispatch(ctx, dispatchInput(now))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n.ID == "" {
		t.Fatalf("dispatch returned empty id")
	}
	if n.Read {
		t.Fatalf("fresh notification must be unread")
	}
	if n.VisualPriority != "urgent" {
		t.Fatalf("high priority must pair with urgent, got %q", n.VisualPriority)
	}
	if !n.ExpiresAt.Equal(now.Add(DefaultExpiry)) {
		t.Fatalf("default expiry: got %v", n.ExpiresAt)
	}

	count, err := svc.UnreadCount(ctx, "id-patient-1", "patient", now)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 1 {
		t.Fatalf("unread count: got %d want 1", count)
	}
}

func TestDispatch_ValidationAndResolver(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	in := dispatchInput(now)
	in.Title = "  "
	if _, err := svc.Dispatch(ctx, in); err == nil {
		t.Fatalf("blank title must be rejected")
	}

	in = dispatchInput(now)
	in.Priority = Priority("critical")
	if _, err := svc.Dispatch(ctx, in); err == nil {
		t.Fatalf("unknown priority must be rejected")
	}

	in = dispatchInput(now)
	in.RecipientRole = "admin"
	if _, err := svc.Dispatch(ctx, in); err == nil {
		t.Fatalf("role without resolver must be rejected")
	}

	in = dispatchInput(now)
	in.ExpiresAt = now.Add(-time.Minute)
	if _, err := svc.Dispatch(ctx, in); err == nil {
		t.Fatalf("past expiry must be rejected")
	}
}

func TestDispatch_PushesToOnlineRecipient(t *testing.T) {
	t.Parallel()

	presence := realtime.NewPresence()
	metrics := &countingMetrics{}
	hook := NewRealtimePushHook(presence, metrics, nil)
	svc := newTestService(t, hook)

	now := time.Now().UTC()
	client := realtime.NewClient("sess-1", "id-patient-1", "patient", "Pat", now, 8)
	presence.Register(client)

	n, err := svc.Dispatch(context.Background(), dispatchInput(now))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	select {
	case env := <-client.Send:
		if env.Type != v1.TypeNotification {
			t.Fatalf("envelope type: got %q", env.Type)
		}
		var p v1.NotificationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if p.ID != n.ID || p.VisualPriority != "urgent" {
			t.Fatalf("payload mismatch: %+v", p)
		}
	default:
		t.Fatalf("expected a pushed envelope on the client queue")
	}

	if got := metrics.pushed.Load(); got != 1 {
		t.Fatalf("pushed counter: got %d want 1", got)
	}
}

func TestDispatch_OfflineRecipientIsDeferred(t *testing.T) {
	t.Parallel()

	presence := realtime.NewPresence()
	metrics := &countingMetrics{}
	hook := NewRealtimePushHook(presence, metrics, nil)
	svc := newTestService(t, hook)

	ctx := context.Background()
	now := time.Now().UTC()
	n, err := svc.Dispatch(ctx, dispatchInput(now))
	if err != nil {
		t.Fatalf("dispatch must succeed for offline recipients: %v", err)
	}

	if got := metrics.deferred.Load(); got != 1 {
		t.Fatalf("deferred counter: got %d want 1", got)
	}

	// The persisted record is the offline fallback.
	items, err := svc.ListForRecipient(ctx, "id-patient-1", "patient", ListFilter{}, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != n.ID {
		t.Fatalf("list: got %d items", len(items))
	}
}

func TestDispatch_SaturatedQueueDrops(t *testing.T) {
	t.Parallel()

	presence := realtime.NewPresence()
	metrics := &countingMetrics{}
	hook := NewRealtimePushHook(presence, metrics, nil)
	svc := newTestService(t, hook)

	now := time.Now().UTC()
	client := realtime.NewClient("sess-1", "id-patient-1", "patient", "Pat", now, 1)
	presence.Register(client)
	if !client.TryEnqueue(v1.Envelope{V: v1.Version, Type: v1.TypePong}) {
		t.Fatalf("priming enqueue failed")
	}

	if _, err := svc.Dispatch(context.Background(), dispatchInput(now)); err != nil {
		t.Fatalf("dispatch must succeed even when the push drops: %v", err)
	}
	if got := metrics.dropped.Load(); got != 1 {
		t.Fatalf("dropped counter: got %d want 1", got)
	}
}

type panickingHook struct{}

func (panickingHook) Notify(context.Context, Notification) { panic("boom") }

func TestDispatch_HookPanicIsIsolated(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, panickingHook{})
	ctx := context.Background()
	now := time.Now().UTC()

	n, err := svc.Dispatch(ctx, dispatchInput(now))
	if err != nil {
		t.Fatalf("hook panic must not fail the dispatch: %v", err)
	}
	if _, err := svc.store.GetByID(ctx, n.ID); err != nil {
		t.Fatalf("record must survive a hook panic: %v", err)
	}
}

func TestMarkRead_IdempotentAndScoped(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	n, err := svc.Dispatch(ctx, dispatchInput(now))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if err := svc.MarkRead(ctx, "id-patient-1", "patient", n.ID, now); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// Re-marking is a successful no-op and the first read_at sticks.
	later := now.Add(time.Hour)
	if err := svc.MarkRead(ctx, "id-patient-1", "patient", n.ID, later); err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	got, err := svc.store.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Read || got.ReadAt == nil || !got.ReadAt.Equal(now) {
		t.Fatalf("read state: %+v", got)
	}

	// Someone else's record looks like it does not exist.
	if err := svc.MarkRead(ctx, "id-other", "patient", n.ID, now); err != ErrNotFound {
		t.Fatalf("cross-recipient mark read: got %v want ErrNotFound", err)
	}

	count, err := svc.UnreadCount(ctx, "id-patient-1", "patient", now)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread count after read: got %d", count)
	}
}

func TestMarkManyRead_CountsTransitionsOnly(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a, _ := svc.Dispatch(ctx, dispatchInput(now))
	b, _ := svc.Dispatch(ctx, dispatchInput(now.Add(time.Second)))

	other := dispatchInput(now)
	other.RecipientRef = "id-other"
	c, _ := svc.Dispatch(ctx, other)

	if err := svc.MarkRead(ctx, "id-patient-1", "patient", a.ID, now); err != nil {
		t.Fatalf("pre-read: %v", err)
	}

	// a is already read, b transitions, c is someone else's, "missing" is unknown.
	transitioned, err := svc.MarkManyRead(ctx, "id-patient-1", "patient", []string{a.ID, b.ID, c.ID, "missing"}, now)
	if err != nil {
		t.Fatalf("mark many: %v", err)
	}
	if transitioned != 1 {
		t.Fatalf("transitioned: got %d want 1", transitioned)
	}

	got, err := svc.store.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	if got.Read {
		t.Fatalf("cross-recipient record must stay unread")
	}
}

func TestListForRecipient_FiltersAndOrdering(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, _ := svc.Dispatch(ctx, dispatchInput(now))
	second, _ := svc.Dispatch(ctx, dispatchInput(now.Add(time.Minute)))
	if err := svc.MarkRead(ctx, "id-patient-1", "patient", first.ID, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	all, err := svc.ListForRecipient(ctx, "id-patient-1", "patient", ListFilter{}, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID || all[1].ID != first.ID {
		t.Fatalf("ordering: got %d items", len(all))
	}

	unreadOnly := false
	readFilter := &unreadOnly
	unread, err := svc.ListForRecipient(ctx, "id-patient-1", "patient", ListFilter{Read: readFilter}, now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unread) != 1 || unread[0].ID != second.ID {
		t.Fatalf("unread filter: got %d items", len(unread))
	}
}

func TestReadSide_ScopedToIdentityRolePair(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	asPatient, err := svc.Dispatch(ctx, dispatchInput(now))
	if err != nil {
		t.Fatalf("dispatch patient: %v", err)
	}

	// Same identity id addressed under a different role.
	in := dispatchInput(now.Add(time.Second))
	in.RecipientRole = "clinician"
	asClinician, err := svc.Dispatch(ctx, in)
	if err != nil {
		t.Fatalf("dispatch clinician: %v", err)
	}

	items, err := svc.ListForRecipient(ctx, "id-patient-1", "patient", ListFilter{}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != asPatient.ID {
		t.Fatalf("patient view: got %d items", len(items))
	}

	count, err := svc.UnreadCount(ctx, "id-patient-1", "clinician", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if count != 1 {
		t.Fatalf("clinician unread: got %d want 1", count)
	}

	// The other role's record cannot be marked through the wrong pair.
	if err := svc.MarkRead(ctx, "id-patient-1", "patient", asClinician.ID, now.Add(time.Minute)); err != ErrNotFound {
		t.Fatalf("cross-role mark read: got %v want ErrNotFound", err)
	}
}

func TestSweepExpired_RemovesOnlyPastExpiry(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := dispatchInput(now)
	stale.ExpiresAt = now.Add(time.Minute)
	old, err := svc.Dispatch(ctx, stale)
	if err != nil {
		t.Fatalf("dispatch stale: %v", err)
	}
	fresh, err := svc.Dispatch(ctx, dispatchInput(now))
	if err != nil {
		t.Fatalf("dispatch fresh: %v", err)
	}

	sweepAt := now.Add(2 * time.Minute)

	// Before the sweep runs, reads already exclude the expired record.
	items, err := svc.ListForRecipient(ctx, "id-patient-1", "patient", ListFilter{}, sweepAt)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != fresh.ID {
		t.Fatalf("expiry exclusion: got %d items", len(items))
	}

	removed, err := svc.SweepExpired(ctx, sweepAt)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("sweep removed: got %d want 1", removed)
	}
	if _, err := svc.store.GetByID(ctx, old.ID); err != ErrNotFound {
		t.Fatalf("stale record must be gone: got %v", err)
	}
	if _, err := svc.store.GetByID(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh record must survive: %v", err)
	}
}

func TestResolverSet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rs := ResolverSet{"patient": StaticResolver()}

	id, err := rs.Resolve(ctx, "patient", "id-1")
	if err != nil || id != "id-1" {
		t.Fatalf("static resolve: %q %v", id, err)
	}
	if _, err := rs.Resolve(ctx, "patient", ""); err == nil {
		t.Fatalf("empty ref must be rejected")
	}
	if _, err := rs.Resolve(ctx, "clinician", "id-1"); err == nil {
		t.Fatalf("unknown role must be rejected")
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	if p, err := ParsePriority(""); err != nil || p != PriorityNormal {
		t.Fatalf("blank: %q %v", p, err)
	}
	if p, err := ParsePriority("  HIGH "); err != nil || p != PriorityHigh {
		t.Fatalf("case fold: %q %v", p, err)
	}
	if _, err := ParsePriority("critical"); err == nil {
		t.Fatalf("unknown priority must be rejected")
	}
}
