package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/zimshelf/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Drain(ctx))
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	var mu sync.Mutex
	var got []string
	b.Subscribe(func(e domain.Event) {
		mu.Lock()
		got = append(got, e.Kind.String()+":"+e.ID)
		mu.Unlock()
	})

	var want []string
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("a%d", i)
		b.Publish(domain.Inserted(domain.EntityArchive, id))
		b.Publish(domain.Updated(domain.EntityArchive, id, domain.FieldTitle))
		want = append(want, "inserted:"+id, "updated:"+id)
	}
	b.Publish(domain.Removed(domain.EntityArchive, "a0"))
	want = append(want, "removed:a0")

	drain(t, b)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	release := make(chan struct{})
	var fastCount int
	var mu sync.Mutex

	b.Subscribe(func(domain.Event) { <-release })
	b.Subscribe(func(domain.Event) {
		mu.Lock()
		fastCount++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(domain.Inserted(domain.EntityArchive, fmt.Sprintf("id%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fastCount == 1000
	}, 5*time.Second, 5*time.Millisecond)

	close(release)
	drain(t, b)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	var mu sync.Mutex
	count := 0
	token := b.Subscribe(func(domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish(domain.Inserted(domain.EntityArchive, "x"))
	drain(t, b)

	b.Unsubscribe(token)
	b.Unsubscribe(token)
	b.Unsubscribe("unknown")
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(domain.Removed(domain.EntityArchive, "x"))
	drain(t, b)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBus_LifecycleViolationsPanic(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	b.Publish(domain.Inserted(domain.EntityArchive, "x"))

	assert.Panics(t, func() { b.Publish(domain.Inserted(domain.EntityArchive, "x")) })
	assert.Panics(t, func() { b.Publish(domain.Removed(domain.EntityArchive, "never")) })
	assert.Panics(t, func() { b.Publish(domain.Updated(domain.EntityArchive, "never", domain.FieldTitle)) })

	// Same id in a different entity is independent
	assert.NotPanics(t, func() { b.Publish(domain.Inserted(domain.EntityBookmark, "x")) })
}

func TestBus_SeedAllowsRemovalOfRestoredIDs(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	b.Seed(domain.EntityArchive, "restored")
	assert.NotPanics(t, func() {
		b.Publish(domain.Updated(domain.EntityArchive, "restored", domain.FieldSize))
		b.Publish(domain.Removed(domain.EntityArchive, "restored"))
		b.Publish(domain.Inserted(domain.EntityArchive, "restored"))
	})
}

func TestBus_SubscriberPanicIsContained(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	var mu sync.Mutex
	var ids []string
	b.Subscribe(func(e domain.Event) {
		if e.ID == "boom" {
			panic("subscriber bug")
		}
		mu.Lock()
		ids = append(ids, e.ID)
		mu.Unlock()
	})

	b.Publish(domain.Inserted(domain.EntityArchive, "boom"))
	b.Publish(domain.Inserted(domain.EntityArchive, "ok"))
	drain(t, b)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ok"}, ids)
}
