package transport

import (
	"sync"
)

// recorder is a Handler that records every event it sees.
type recorder struct {
	mu     sync.Mutex
	events []string
	data   [][]byte
	errs   []error
}

func (r *recorder) HandleOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "open")
}

func (r *recorder) HandleData(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "data")
	r.data = append(r.data, data)
}

func (r *recorder) HandleClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "close")
}

func (r *recorder) HandleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error")
	r.errs = append(r.errs, err)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.data))
	for i, d := range r.data {
		out[i] = string(d)
	}
	return out
}

// acceptInto returns an accept handler that attaches a recorder to every
// incoming connection and publishes it on the returned channel.
func acceptInto() (func(Conn), chan Conn, *recorder) {
	rec := &recorder{}
	ch := make(chan Conn, 8)
	return func(c Conn) {
		c.SetHandler(rec)
		ch <- c
	}, ch, rec
}
