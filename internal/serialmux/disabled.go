package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// ErrSerialDisabled is returned by commands sent while the array is disabled.
var ErrSerialDisabled = errors.New("sonar array serial port is disabled")

// DisabledSerialMux stands in for the array when it runs with
// --disable-serial. It never produces a reading; subscriber channels stay
// open until Unsubscribe or Close so the tracking loop can shut down cleanly.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closed      bool
	rejected    int
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subscribers: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id, ch := randomID(), make(chan string)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
	} else {
		d.subscribers[id] = ch
	}
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		delete(d.subscribers, id)
		close(ch)
	}
}

// SendCommand rejects every command with ErrSerialDisabled.
func (d *DisabledSerialMux) SendCommand(string) error {
	d.mu.Lock()
	d.rejected++
	d.mu.Unlock()
	return ErrSerialDisabled
}

// Monitor blocks until ctx is done.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.subscribers {
		delete(d.subscribers, id)
		close(ch)
	}
	return nil
}

// AttachAdminRoutes exposes /debug/serial so the admin index shows why no
// readings arrive.
func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).HandleFunc("serial", "Serial port status", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		subs, rejected := len(d.subscribers), d.rejected
		d.mu.Unlock()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "serial disabled\nsubscribers: %d\nrejected commands: %d\n", subs, rejected)
	})
}
