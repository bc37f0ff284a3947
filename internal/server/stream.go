package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"casino/internal/crash"
)

const (
	STREAM_BUFFER_SIZE = 256
	STREAM_KEEPALIVE   = 15 * time.Second
)

// eventFeed is a buffered per-client subscription. When the client falls
// behind and the buffer fills, the hub drops it and done is closed.
type eventFeed struct {
	events      chan crash.Event
	done        chan struct{}
	once        sync.Once
	unsubscribe func()
}

func subscribeFeed(m *crash.Manager, name string, size int) (*eventFeed, error) {
	f := &eventFeed{
		events: make(chan crash.Event, size),
		done:   make(chan struct{}),
	}

	forward := crash.ChannelListener(f.events)
	unsubscribe, err := m.Subscribe(name, func(ev crash.Event) error {
		if err := forward(ev); err != nil {
			f.once.Do(func() { close(f.done) })
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.unsubscribe = unsubscribe
	return f, nil
}

func (f *eventFeed) Close() {
	f.unsubscribe()
}

// writeEvent emits one server-sent event frame.
func writeEvent(w io.Writer, ev crash.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}

// streamHandler serves the live event stream. The first frame is always a
// snapshot of the current round and history.
func (s *FiberServer) streamHandler(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	client := "sse:" + c.IP()
	feed, err := subscribeFeed(s.manager, client, STREAM_BUFFER_SIZE)
	if err != nil {
		return writeError(c, err)
	}

	ctx := c.Context()
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer feed.Close()

		keepalive := time.NewTicker(STREAM_KEEPALIVE)
		defer keepalive.Stop()

		for {
			select {
			case ev := <-feed.events:
				if err := writeEvent(w, ev); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					log.Printf("[SSE] Client %s disconnected", client)
					return
				}

			case <-keepalive.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					log.Printf("[SSE] Client %s disconnected", client)
					return
				}

			case <-feed.done:
				log.Printf("[SSE] Client %s fell behind, closing stream", client)
				return

			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}
