package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestMemoryStore_OneSessionPerChat(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	st := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	first := models.NewAppointmentSession("chat-1", clock.t)
	first.Name = "Ana"
	if err := st.Save(ctx, first); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	second := models.NewAppointmentSession("chat-1", clock.t)
	second.Name = "Luis"
	if err := st.Save(ctx, second); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if st.Len() != 1 {
		t.Fatalf("expected exactly one session, got %d", st.Len())
	}
	got, _ := st.Get(ctx, "chat-1")
	if got == nil || got.Name != "Luis" {
		t.Fatalf("expected latest session, got %+v", got)
	}
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	st := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_ = st.Save(ctx, models.NewAppointmentSession("chat-1", clock.t))

	clock.t = clock.t.Add(29 * time.Minute)
	if got, _ := st.Get(ctx, "chat-1"); got == nil {
		t.Fatal("session should still be alive after 29 minutes")
	}

	clock.t = clock.t.Add(2 * time.Minute)
	if got, _ := st.Get(ctx, "chat-1"); got != nil {
		t.Fatalf("session untouched for 31 minutes should be absent, got %+v", got)
	}
	if st.Len() != 0 {
		t.Errorf("expired session should be discarded on access, len=%d", st.Len())
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	s := models.NewAppointmentSession("chat-1", time.Now())
	s.Slots = []models.TimeSlot{models.NewTimeSlot(time.Now(), 30*time.Minute)}
	_ = st.Save(ctx, s)

	got, _ := st.Get(ctx, "chat-1")
	got.Slots[0].Available = false
	got.State = models.AppointmentStateConfirming

	again, _ := st.Get(ctx, "chat-1")
	if !again.Slots[0].Available || again.State != models.AppointmentStateDetectingIntent {
		t.Error("mutating a returned session must not change the stored one")
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	st := NewMemoryStore(WithClock(clock.Now), WithTTL(10*time.Minute))
	ctx := context.Background()

	_ = st.Save(ctx, models.NewAppointmentSession("old", clock.t))
	clock.t = clock.t.Add(8 * time.Minute)
	_ = st.Save(ctx, models.NewAppointmentSession("fresh", clock.t))
	clock.t = clock.t.Add(5 * time.Minute)

	if removed := st.Sweep(); removed != 1 {
		t.Errorf("expected 1 removed session, got %d", removed)
	}
	if got, _ := st.Get(ctx, "fresh"); got == nil {
		t.Error("fresh session should survive the sweep")
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("env REDIS_URL not set")
	}
	ctx := context.Background()
	st, err := NewRedisStore(ctx, WithRedisURL(url), WithKeyPrefix("replypipe:test:"), WithRedisTTL(time.Minute))
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer st.Close()

	s := models.NewAppointmentSession("chat-redis", time.Now())
	s.Name = "Ana"
	if err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := st.Get(ctx, "chat-redis")
	if err != nil || got == nil || got.Name != "Ana" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if err := st.Delete(ctx, "chat-redis"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if got, _ := st.Get(ctx, "chat-redis"); got != nil {
		t.Error("expected session deleted")
	}
}
