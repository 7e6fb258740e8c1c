package heartbeat

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/openinbox/inboxd/pkg/logger"
)

func newTestReporter(t *testing.T, ttl time.Duration) (*Reporter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, ttl, logger.New("heartbeat-test", "error", bytes.NewBuffer(nil))), mr
}

func TestKey(t *testing.T) {
	if got := Key("syncback"); got != "inboxd:heartbeat:syncback" {
		t.Fatalf("unexpected key: %q", got)
	}
}

func TestBeatSetsKeyWithTTL(t *testing.T) {
	r, mr := newTestReporter(t, time.Minute)

	if err := r.Beat(context.Background(), "syncback"); err != nil {
		t.Fatalf("beat: %v", err)
	}
	if !mr.Exists(Key("syncback")) {
		t.Fatalf("heartbeat key not written")
	}
	if ttl := mr.TTL(Key("syncback")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl: %v", ttl)
	}
}

func TestAliveReflectsKeyExpiry(t *testing.T) {
	r, mr := newTestReporter(t, time.Minute)
	ctx := context.Background()

	alive, err := r.Alive(ctx, "syncback")
	if err != nil || alive {
		t.Fatalf("expected no heartbeat before the first beat, got alive=%v err=%v", alive, err)
	}

	if err := r.Beat(ctx, "syncback"); err != nil {
		t.Fatalf("beat: %v", err)
	}
	alive, err = r.Alive(ctx, "syncback")
	if err != nil || !alive {
		t.Fatalf("expected alive after beat, got alive=%v err=%v", alive, err)
	}

	mr.FastForward(2 * time.Minute)
	alive, err = r.Alive(ctx, "syncback")
	if err != nil || alive {
		t.Fatalf("expected expired heartbeat, got alive=%v err=%v", alive, err)
	}
}

func TestBeatSurfacesBackendErrors(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	r := NewWithClient(client, time.Minute, logger.New("heartbeat-test", "error", bytes.NewBuffer(nil)))

	mr.Close()
	if err := r.Beat(context.Background(), "syncback"); err == nil {
		t.Fatalf("expected error with backend down")
	}
}
