package api

import (
	"context"
	"testing"
	"time"
)

func TestRedisDeduperAdd(t *testing.T) {
	d := NewRedisDeduper(setupRedis(t), time.Hour)
	ctx := context.Background()

	added, err := d.Add(ctx, "org-1", "pay-1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !added {
		t.Fatal("expected first add to succeed")
	}

	added, err = d.Add(ctx, "org-1", "pay-1")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if added {
		t.Fatal("expected duplicate key to be rejected")
	}

	// Same key under another tenant is independent.
	added, err = d.Add(ctx, "org-2", "pay-1")
	if err != nil {
		t.Fatalf("other org add: %v", err)
	}
	if !added {
		t.Fatal("expected key to be scoped per tenant")
	}
}

func TestRedisDeduperRemove(t *testing.T) {
	d := NewRedisDeduper(setupRedis(t), time.Hour)
	ctx := context.Background()

	if _, err := d.Add(ctx, "org-1", "pay-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.Remove(ctx, "org-1", "pay-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err := d.Add(ctx, "org-1", "pay-1")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if !added {
		t.Fatal("expected key to be addable after removal")
	}
}
