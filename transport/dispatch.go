package transport

import (
	"sync"
)

type eventKind uint8

const (
	eventOpen eventKind = iota
	eventData
	eventError
	eventClose
)

type event struct {
	kind eventKind
	data []byte
	err  error
}

// dispatcher buffers the events of one connection and delivers them in
// order from a single goroutine once a handler is attached. Nothing is
// queued after the close event.
type dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []event
	handler  Handler
	finished bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// push queues an event. It reports false if the close event was already
// queued.
func (d *dispatcher) push(ev event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return false
	}
	if ev.kind == eventClose {
		d.finished = true
	}
	d.queue = append(d.queue, ev)
	d.cond.Signal()
	return true
}

// start attaches the handler and begins delivery. Only the first call has
// an effect.
func (d *dispatcher) start(h Handler) {
	d.mu.Lock()
	if d.handler != nil || h == nil {
		d.mu.Unlock()
		return
	}
	d.handler = h
	d.mu.Unlock()

	go d.run()
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			d.cond.Wait()
		}
		ev := d.queue[0]
		d.queue[0] = event{}
		d.queue = d.queue[1:]
		h := d.handler
		d.mu.Unlock()

		switch ev.kind {
		case eventOpen:
			h.HandleOpen()
		case eventData:
			h.HandleData(ev.data)
		case eventError:
			h.HandleError(ev.err)
		case eventClose:
			h.HandleClose()
			return
		}
	}
}
