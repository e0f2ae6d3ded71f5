package favicon

import "github.com/mmcdole/zimshelf/internal/domain"

// Watch ensures a favicon for every archive inserted on bus.
// The returned func stops watching.
func (c *Coordinator) Watch(bus domain.Subscriber) func() {
	token := bus.Subscribe(func(e domain.Event) {
		if e.Entity == domain.EntityArchive && e.Kind == domain.EventInserted {
			c.Ensure(c.ctx, e.ID)
		}
	})
	return func() { bus.Unsubscribe(token) }
}
