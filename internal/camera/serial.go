package camera

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"
)

// SerialDevice reads codes from a line-oriented device file, the way gate
// scanner hardware presents itself (e.g. /dev/ttyACM0). A reader goroutine
// drains lines into a small buffer; Detect surfaces the most recent one
// without blocking the polling tick.
type SerialDevice struct {
	Path string

	mu     sync.Mutex
	file   *os.File
	lines  chan string
	closed chan struct{}
}

// NewSerialDevice creates a device over the given path.
func NewSerialDevice(path string) *SerialDevice {
	return &SerialDevice{Path: path}
}

// Open opens the device file and starts draining lines.
func (d *SerialDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		return nil
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return err
	}
	d.file = f
	d.lines = make(chan string, 8)
	d.closed = make(chan struct{})

	go func(f *os.File, lines chan string, closed chan struct{}) {
		defer close(lines)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-closed:
				return
			default:
				// buffer full, drop the read
			}
		}
	}(f, d.lines, d.closed)

	return nil
}

// Detect returns the next buffered code, or "" when none arrived since the
// last tick.
func (d *SerialDevice) Detect(ctx context.Context) (string, error) {
	d.mu.Lock()
	lines := d.lines
	d.mu.Unlock()
	if lines == nil {
		return "", nil
	}
	select {
	case line := <-lines:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", nil
	}
}

// Close releases the device file. Safe to call twice.
func (d *SerialDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	close(d.closed)
	err := d.file.Close()
	d.file = nil
	d.lines = nil
	return err
}
