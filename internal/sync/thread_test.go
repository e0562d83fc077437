package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/internal/bus"
	"github.com/chatdesk/chatdesk/internal/model"
	"github.com/chatdesk/chatdesk/internal/realtime"
)

func newThread(gw Gateway) *ThreadReconciler {
	return NewThreadReconciler(gw, bus.New(), zap.NewNop())
}

// pageOf returns a newest-first server page, the way the API serves it.
func pageOf(t *testing.T, msgs ...model.Message) []model.Message {
	t.Helper()
	return msgs
}

func TestOpenReversesToChronological(t *testing.T) {
	gw := &fakeGateway{
		getFn: func(id string, page, pageSize int) ([]model.Message, model.Pagination, error) {
			return pageOf(t,
				model.Message{UUID: "m3", Content: "third", CreatedAt: ts(t, "2026-08-30T12:02:00Z")},
				model.Message{UUID: "m2", Content: "second", CreatedAt: ts(t, "2026-08-30T12:01:00Z")},
				model.Message{UUID: "m1", Content: "first", CreatedAt: ts(t, "2026-08-30T12:00:00Z")},
			), model.Pagination{}, nil
		},
	}
	r := newThread(gw)
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("length = %d", len(got))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if got[i].UUID != want {
			t.Errorf("position %d = %s, want %s", i, got[i].UUID, want)
		}
	}
}

func TestDuplicateDeliveryIdempotent(t *testing.T) {
	r := newThread(&fakeGateway{})
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	evt := &realtime.MessageCreated{
		ConversationUUID: "c1",
		Message:          model.Message{UUID: "m1", Content: "hello", Type: model.MessageUser, CreatedAt: ts(t, "2026-08-30T12:00:00Z")},
	}
	r.ApplyMessageCreated(evt)
	once := r.Snapshot()
	r.ApplyMessageCreated(evt)
	twice := r.Snapshot()

	if len(once) != 1 || len(twice) != 1 {
		t.Fatalf("lengths = %d, %d, want 1, 1", len(once), len(twice))
	}
	if once[0] != twice[0] {
		t.Errorf("duplicate delivery changed message: %+v -> %+v", once[0], twice[0])
	}
}

func TestEventForOtherConversationIgnored(t *testing.T) {
	r := newThread(&fakeGateway{})
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	r.ApplyMessageCreated(&realtime.MessageCreated{
		ConversationUUID: "c2",
		Message:          model.Message{UUID: "m1", Content: "elsewhere"},
	})
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("thread polluted: %+v", got)
	}
}

func TestEchoBeforeRESTConfirmation(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{
		sendFn: func(id, content string) (*model.Message, error) {
			<-release
			return &model.Message{UUID: "m7", Content: content, Type: model.MessageAgent, CreatedAt: ts(t, "2026-08-30T12:00:00Z")}, nil
		},
	}
	r := newThread(gw)
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Send(context.Background(), "hi there") }()

	// Wait for the optimistic pending entry.
	waitFor(t, func() bool {
		snap := r.Snapshot()
		return len(snap) == 1 && snap[0].Pending
	})

	// The realtime echo lands before the REST response resolves.
	r.ApplyMessageCreated(&realtime.MessageCreated{
		ConversationUUID: "c1",
		Message:          model.Message{UUID: "m7", Content: "hi there", Type: model.MessageAgent, CreatedAt: ts(t, "2026-08-30T12:00:00Z")},
	})

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Pending || snap[0].UUID != "m7" {
		t.Fatalf("after echo: %+v", snap)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	snap = r.Snapshot()
	if len(snap) != 1 || snap[0].Pending || snap[0].UUID != "m7" {
		t.Errorf("after REST confirmation: %+v", snap)
	}
}

func TestRESTConfirmationBeforeEcho(t *testing.T) {
	gw := &fakeGateway{
		sendFn: func(id, content string) (*model.Message, error) {
			return &model.Message{UUID: "m7", Content: content, Type: model.MessageAgent, CreatedAt: ts(t, "2026-08-30T12:00:00Z")}, nil
		},
	}
	r := newThread(gw)
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Send(context.Background(), "hi there"); err != nil {
		t.Fatal(err)
	}

	// Echo arrives after the REST response already replaced the temp.
	r.ApplyMessageCreated(&realtime.MessageCreated{
		ConversationUUID: "c1",
		Message:          model.Message{UUID: "m7", Content: "hi there", Type: model.MessageAgent, CreatedAt: ts(t, "2026-08-30T12:00:00Z")},
	})

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].Pending || snap[0].UUID != "m7" {
		t.Errorf("thread = %+v, want single confirmed m7", snap)
	}
}

func TestSendFailureRemovesPending(t *testing.T) {
	gw := &fakeGateway{
		sendFn: func(id, content string) (*model.Message, error) {
			return nil, errors.New("rate limited")
		},
	}
	r := newThread(gw)
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Send(context.Background(), "oops"); err == nil {
		t.Fatal("expected error")
	}
	if got := r.Snapshot(); len(got) != 0 {
		t.Errorf("pending entry not rolled back: %+v", got)
	}
}

func TestSendFailurePublishesOnce(t *testing.T) {
	gw := &fakeGateway{
		sendFn: func(id, content string) (*model.Message, error) {
			return nil, errors.New("rate limited")
		},
	}
	b := bus.New()
	r := NewThreadReconciler(gw, b, zap.NewNop())
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(16, bus.TopicSendFailed)
	defer unsub()

	if err := r.Send(context.Background(), "oops"); err == nil {
		t.Fatal("expected error")
	}

	select {
	case evt := <-ch:
		if got, ok := evt.Payload.(string); !ok || got != "rate limited" {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no send-failed event")
	}
	select {
	case evt := <-ch:
		t.Fatalf("unexpected second send-failed event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStaleFetchSuppressed(t *testing.T) {
	releaseA := make(chan struct{})
	gw := &fakeGateway{
		getFn: func(id string, page, pageSize int) ([]model.Message, model.Pagination, error) {
			if id == "a" {
				<-releaseA
				return pageOf(t, model.Message{UUID: "a1", Content: "from a", CreatedAt: ts(t, "2026-08-30T12:00:00Z")}), model.Pagination{}, nil
			}
			return pageOf(t, model.Message{UUID: "b1", Content: "from b", CreatedAt: ts(t, "2026-08-30T12:00:00Z")}), model.Pagination{}, nil
		},
	}
	r := newThread(gw)

	done := make(chan error, 1)
	go func() { done <- r.Open(context.Background(), "a") }()

	waitFor(t, func() bool { return r.Conversation() == "a" })
	if err := r.Open(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}

	close(releaseA)
	if err := <-done; err != nil {
		t.Fatalf("stale fetch surfaced an error: %v", err)
	}

	got := r.Snapshot()
	if len(got) != 1 || got[0].UUID != "b1" {
		t.Errorf("thread = %+v, want only b1", got)
	}
}

func TestLoadOlderPrepends(t *testing.T) {
	gw := &fakeGateway{
		getFn: func(id string, page, pageSize int) ([]model.Message, model.Pagination, error) {
			switch page {
			case 1:
				return pageOf(t,
					model.Message{UUID: "m4", CreatedAt: ts(t, "2026-08-30T12:03:00Z")},
					model.Message{UUID: "m3", CreatedAt: ts(t, "2026-08-30T12:02:00Z")},
				), model.Pagination{HasMore: true}, nil
			default:
				return pageOf(t,
					model.Message{UUID: "m2", CreatedAt: ts(t, "2026-08-30T12:01:00Z")},
					model.Message{UUID: "m1", CreatedAt: ts(t, "2026-08-30T12:00:00Z")},
				), model.Pagination{HasMore: false}, nil
			}
		},
	}
	r := newThread(gw)
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	added, err := r.LoadOlder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	got := r.Snapshot()
	for i, want := range []string{"m1", "m2", "m3", "m4"} {
		if got[i].UUID != want {
			t.Errorf("position %d = %s, want %s", i, got[i].UUID, want)
		}
	}
	if r.HasOlder() {
		t.Error("hasOlder = true after final page")
	}

	// Exhausted: further loads are no-ops.
	added, err = r.LoadOlder(context.Background())
	if err != nil || added != 0 {
		t.Errorf("LoadOlder after exhaustion = (%d, %v)", added, err)
	}
}

func TestLoadOlderSkipsShiftedDuplicates(t *testing.T) {
	gw := &fakeGateway{
		getFn: func(id string, page, pageSize int) ([]model.Message, model.Pagination, error) {
			switch page {
			case 1:
				return pageOf(t,
					model.Message{UUID: "m3", CreatedAt: ts(t, "2026-08-30T12:02:00Z")},
					model.Message{UUID: "m2", CreatedAt: ts(t, "2026-08-30T12:01:00Z")},
				), model.Pagination{HasMore: true}, nil
			default:
				// A new arrival shifted the pages: m2 appears again.
				return pageOf(t,
					model.Message{UUID: "m2", CreatedAt: ts(t, "2026-08-30T12:01:00Z")},
					model.Message{UUID: "m1", CreatedAt: ts(t, "2026-08-30T12:00:00Z")},
				), model.Pagination{}, nil
			}
		},
	}
	r := newThread(gw)
	if err := r.Open(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	added, err := r.LoadOlder(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	got := r.Snapshot()
	if len(got) != 3 || got[0].UUID != "m1" {
		t.Errorf("thread = %+v", got)
	}
}

func TestOpenEvictsPreviousThread(t *testing.T) {
	gw := &fakeGateway{
		getFn: func(id string, page, pageSize int) ([]model.Message, model.Pagination, error) {
			return pageOf(t, model.Message{UUID: id + "-m1", CreatedAt: ts(t, "2026-08-30T12:00:00Z")}), model.Pagination{}, nil
		},
	}
	r := newThread(gw)
	if err := r.Open(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Open(context.Background(), "b"); err != nil {
		t.Fatal(err)
	}
	got := r.Snapshot()
	if len(got) != 1 || got[0].UUID != "b-m1" {
		t.Errorf("thread = %+v", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
