package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cadencehq/cadence/internal/domain"
)

func cacheDoc() *domain.SequenceDocument {
	return &domain.SequenceDocument{
		ID:    "seq_1",
		Title: "Engineer Recruitment",
		Steps: []domain.SequenceStep{
			{ID: "step_1", StepNumber: 1, Channel: domain.ChannelEmail, Subject: "Hi", Message: "Hello"},
		},
	}
}

// Both implementations must agree on semantics: miss is (nil, nil),
// put replaces, clear removes.
func TestSequenceCacheImplementations(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache, err := NewRedis(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis() error: %v", err)
	}
	t.Cleanup(func() { redisCache.Close() })

	impls := map[string]SequenceCache{
		"memory": NewMemory(),
		"redis":  redisCache,
	}

	for name, c := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			doc, err := c.Get(ctx, "missing")
			if err != nil || doc != nil {
				t.Errorf("Get(missing) = (%v, %v), want (nil, nil)", doc, err)
			}

			if err := c.Put(ctx, "s1", cacheDoc()); err != nil {
				t.Fatalf("Put() error: %v", err)
			}
			got, err := c.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if got == nil || got.ID != "seq_1" || len(got.Steps) != 1 {
				t.Errorf("Get() = %#v, want the stored document", got)
			}

			updated := cacheDoc()
			updated.Title = "Updated"
			if err := c.Put(ctx, "s1", updated); err != nil {
				t.Fatalf("Put(updated) error: %v", err)
			}
			got, err = c.Get(ctx, "s1")
			if err != nil || got == nil || got.Title != "Updated" {
				t.Errorf("Get() after update = (%#v, %v), want the replacement", got, err)
			}

			if err := c.Clear(ctx, "s1"); err != nil {
				t.Fatalf("Clear() error: %v", err)
			}
			got, err = c.Get(ctx, "s1")
			if err != nil || got != nil {
				t.Errorf("Get() after clear = (%#v, %v), want (nil, nil)", got, err)
			}
		})
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	if err := c.Put(ctx, "s1", cacheDoc()); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	first, err := c.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	first.Steps[0].Message = "mutated"

	second, err := c.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if second.Steps[0].Message == "mutated" {
		t.Error("mutating a Get() result changed the cached document")
	}
}

func TestRedisKeysAreNamespaced(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedis(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	if err := c.Put(context.Background(), "s1", cacheDoc()); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if !mr.Exists("cadence:sequence:s1") {
		t.Error("cached document not stored under the namespaced key")
	}
	if ttl := mr.TTL("cadence:sequence:s1"); ttl <= 0 {
		t.Errorf("cached document has no expiry, ttl = %v", ttl)
	}
}
