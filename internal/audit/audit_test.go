package audit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client)
}

func TestLogAndRange(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	base := float64(time.Now().Unix())
	for i := 0; i < 3; i++ {
		ts := base + float64(i)
		if _, err := store.Log(ctx, map[string]any{"n": i}, ts); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	audits, err := store.Range(ctx, time.Unix(int64(base), 0), time.Unix(int64(base)+10, 0))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(audits) != 3 {
		t.Fatalf("got %d audits, want 3", len(audits))
	}
	// Sorted-set semantics: ordered by timestamp.
	if audits[0]["n"] != float64(0) || audits[2]["n"] != float64(2) {
		t.Errorf("order wrong: %v", audits)
	}
}

func TestLogAssignsTimestamp(t *testing.T) {
	store := testStore(t)
	ts, err := store.Log(context.Background(), map[string]any{"k": "v"}, 0)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if ts == 0 {
		t.Fatal("zero timestamp should be replaced")
	}
}

func TestRemove(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ts, err := store.Log(ctx, map[string]any{"uploaded": false}, 1234.5)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	audit, err := store.Remove(ctx, ts)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if audit == nil || audit["uploaded"] != false {
		t.Fatalf("audit = %v", audit)
	}

	// A second removal finds nothing.
	audit, err = store.Remove(ctx, ts)
	if err != nil || audit != nil {
		t.Fatalf("second Remove: %v, %v", audit, err)
	}
}

func TestUpdate(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ts, err := store.Log(ctx, map[string]any{"uploaded": false}, 99.25)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}

	found, err := store.Update(ctx, ts, func(audit map[string]any) map[string]any {
		audit["uploaded"] = true
		return audit
	})
	if err != nil || !found {
		t.Fatalf("Update: %v, %v", found, err)
	}

	audits, err := store.Range(ctx, time.Unix(0, 0), time.Unix(1000, 0))
	if err != nil || len(audits) != 1 {
		t.Fatalf("Range: %v, %v", audits, err)
	}
	if audits[0]["uploaded"] != true {
		t.Errorf("audit not updated: %v", audits[0])
	}

	found, err = store.Update(ctx, 555.5, func(a map[string]any) map[string]any { return a })
	if err != nil || found {
		t.Fatalf("Update on missing timestamp: %v, %v", found, err)
	}
}

func TestRemoveRange(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := store.Log(ctx, map[string]any{"n": i}, float64(i)); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	removed, err := store.RemoveRange(ctx, time.Unix(1, 0), time.Unix(2, 0))
	if err != nil {
		t.Fatalf("RemoveRange: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	rest, err := store.Range(ctx, time.Unix(0, 0), time.Unix(10, 0))
	if err != nil || len(rest) != 2 {
		t.Fatalf("Range after removal: %v, %v", rest, err)
	}
}
