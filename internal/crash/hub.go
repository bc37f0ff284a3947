package crash

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// Listener receives every published event. It runs on the publisher's
// goroutine and must not block; returning an error unsubscribes it.
type Listener func(Event) error

var ErrSubscriberSlow = errors.New("subscriber buffer full")

type subscriber struct {
	id     uint64
	name   string
	listen Listener
}

// Hub fans events out to registered listeners. A failing listener is dropped
// without affecting the others.
type Hub struct {
	subscribers []*subscriber
	nextID      uint64
	mu          sync.Mutex
}

func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers a listener and returns the function that removes it.
// The returned function is safe to call more than once.
func (h *Hub) Subscribe(name string, l Listener) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subscribers = append(h.subscribers, &subscriber{id: id, name: name, listen: l})
	total := len(h.subscribers)
	h.mu.Unlock()

	log.Printf("[HUB] Subscriber connected: %s (Total: %d)", name, total)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id, "unsubscribed") })
	}
}

func (h *Hub) remove(id uint64, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subscribers {
		if s.id == id {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			log.Printf("[HUB] Subscriber %s removed: %s (Total: %d)", s.name, reason, len(h.subscribers))
			return
		}
	}
}

// Publish delivers ev to every listener in registration order.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	subs := make([]*subscriber, len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, s := range subs {
		if err := deliver(s.listen, ev); err != nil {
			h.remove(s.id, err.Error())
		}
	}
}

func deliver(l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(ev)
}

func (h *Hub) GetClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// ChannelListener forwards events into ch without blocking. When ch is full
// the listener fails, which unsubscribes it.
func ChannelListener(ch chan<- Event) Listener {
	return func(ev Event) error {
		select {
		case ch <- ev:
			return nil
		default:
			return ErrSubscriberSlow
		}
	}
}
