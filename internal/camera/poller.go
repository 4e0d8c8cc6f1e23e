// Package camera owns the live code-acquisition loop: a capture device
// sampled on a fixed interval, feeding detected codes into the recorder.
package camera

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// MinCodeLength filters out partial reads from the detector.
const MinCodeLength = 3

// Device is one capture device with a code detector attached. Detect
// returns the code visible on the current frame, or "" when none is.
type Device interface {
	Open(ctx context.Context) error
	Detect(ctx context.Context) (string, error)
	Close() error
}

// Poller samples a device on a fixed interval while active. It exclusively
// owns the device between Start and Stop. Detections are fire-and-forget:
// a code arriving while a submission is pending is dropped, never queued,
// and a submission already handed off runs to completion on its own — Stop
// only halts polling and the device, never a round trip in flight.
type Poller struct {
	dev      Device
	interval time.Duration
	submit   func(ctx context.Context, code string) error
	busy     func() bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller. busy gates each tick; submit receives codes of
// plausible length.
func New(dev Device, interval time.Duration, busy func() bool, submit func(ctx context.Context, code string) error) *Poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Poller{dev: dev, interval: interval, submit: submit, busy: busy}
}

// Active reports whether the acquisition loop is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Start opens the device and begins polling. Starting an active poller is a
// no-op. An open failure is returned to the caller as a blocking notice;
// the manual path stays usable.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}

	if err := p.dev.Open(ctx); err != nil {
		return fmt.Errorf("camera open failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)
	return nil
}

// Stop halts polling and releases the device. Safe to call at any time,
// from any exit path, any number of times; it waits out a mid-flight tick
// before closing the device. A submission already in flight is untouched
// and runs to completion or failure.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	if err := p.dev.Close(); err != nil {
		log.Printf("camera close failed: %v", err)
	}
	p.cancel = nil
	p.done = nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.busy() {
				continue
			}
			code, err := p.dev.Detect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("detect failed: %v", err)
				continue
			}
			if len(code) < MinCodeLength {
				continue
			}
			// Hand the code off with a lifetime of its own: cancelling the
			// loop must not abort a submission mid round trip. ErrBusy and
			// blank codes are dropped by the recorder itself.
			go func(code string) {
				_ = p.submit(context.WithoutCancel(ctx), code)
			}(code)
		}
	}
}
