package control

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const SUBSCRIBER_BUFFER = 64

// fans encoded events out to streaming subscribers; slow subscribers miss events
type eventHub struct {
	sync.Mutex
	subscribers map[chan []byte]struct{}
	//	latest line per key, replayed to new subscribers
	recent *lru.Cache
	closed bool
}

func newEventHub(replay int) (hub *eventHub) {
	hub = &eventHub{
		subscribers: map[chan []byte]struct{}{},
	}
	if replay > 0 {
		recent, err := lru.New(replay)
		if err == nil {
			hub.recent = recent
		}
	}
	return
}

func (hub *eventHub) subscribe() (ch chan []byte, replay [][]byte) {
	hub.Lock()
	defer hub.Unlock()
	ch = make(chan []byte, SUBSCRIBER_BUFFER)
	if hub.closed {
		close(ch)
		return
	}
	hub.subscribers[ch] = struct{}{}
	if hub.recent != nil {
		for _, key := range hub.recent.Keys() {
			if line, ok := hub.recent.Peek(key); ok {
				replay = append(replay, line.([]byte))
			}
		}
	}
	return
}

func (hub *eventHub) unsubscribe(ch chan []byte) {
	hub.Lock()
	defer hub.Unlock()
	if _, ok := hub.subscribers[ch]; ok {
		delete(hub.subscribers, ch)
		close(ch)
	}
}

func (hub *eventHub) publish(key string, line []byte) {
	hub.Lock()
	defer hub.Unlock()
	if hub.closed {
		return
	}
	if hub.recent != nil && key != "" {
		hub.recent.Add(key, line)
	}
	for ch := range hub.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (hub *eventHub) clearRecent() {
	hub.Lock()
	defer hub.Unlock()
	if hub.recent != nil {
		hub.recent.Purge()
	}
}

func (hub *eventHub) close() {
	hub.Lock()
	defer hub.Unlock()
	hub.closed = true
	for ch := range hub.subscribers {
		close(ch)
	}
	hub.subscribers = map[chan []byte]struct{}{}
}
