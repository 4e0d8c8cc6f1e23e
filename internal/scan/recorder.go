package scan

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"eduguard/internal/feedback"
	"eduguard/internal/metrics"
	"eduguard/internal/queue"
)

// Messages shown to the operator when the authority gave none.
const (
	MsgCommunicationError = "Erro de comunicação"
	MsgCodeNotRecognized  = "QR Code não reconhecido"
)

var (
	// ErrEmptyCode signals a blank submission; callers treat it as a no-op.
	ErrEmptyCode = errors.New("empty code")
	// ErrBusy signals that a submission is already in flight.
	ErrBusy = errors.New("submission already in flight")
)

// Authority validates a code, resolves the student, and decides accept or
// reject. A returned error means the round trip itself failed; a logical
// rejection comes back as a Result with Success=false.
type Authority interface {
	Scan(ctx context.Context, req Request) (Result, error)
}

// Recorder drives the submission lifecycle for one operator session:
// single-flight delivery to the authority, audible feedback, the bounded
// session history, and the auto-clearing displayed result.
type Recorder struct {
	authority Authority
	history   *History
	signaler  feedback.Signaler
	events    queue.Queue
	operator  Operator
	location  string
	device    string
	resultTTL time.Duration

	inFlight atomic.Bool

	mu      sync.Mutex
	mode    MovementMode
	current *Result
	gen     uint64
}

// Config carries the fixed labels and tunables of a recorder session.
type Config struct {
	Operator   Operator
	Location   string
	Device     string
	HistoryCap int
	ResultTTL  time.Duration
}

// NewRecorder creates a recorder in ENTRADA mode with an empty history.
// The signaler and queue are optional; nil disables tones and event fan-out.
func NewRecorder(authority Authority, sig feedback.Signaler, events queue.Queue, cfg Config) *Recorder {
	if sig == nil {
		sig = feedback.Silent{}
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 6 * time.Second
	}
	return &Recorder{
		authority: authority,
		history:   NewHistory(cfg.HistoryCap),
		signaler:  sig,
		events:    events,
		operator:  cfg.Operator,
		location:  cfg.Location,
		device:    cfg.Device,
		resultTTL: cfg.ResultTTL,
		mode:      Entry,
	}
}

// SetMode replaces the active movement direction. Setting the current mode
// again is a no-op.
func (r *Recorder) SetMode(m MovementMode) error {
	if !m.Valid() {
		return errors.New("invalid movement mode")
	}
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
	return nil
}

// Mode returns the active movement direction.
func (r *Recorder) Mode() MovementMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// InFlight reports whether a submission is currently pending. Acquisition
// paths use it to drop detections instead of queueing them.
func (r *Recorder) InFlight() bool {
	return r.inFlight.Load()
}

// History returns the session ledger.
func (r *Recorder) History() *History {
	return r.history
}

// Current returns the displayed result, or nil after it auto-cleared.
func (r *Recorder) Current() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Submit performs one submission attempt: build the request from the trimmed
// code and the active mode, one round trip to the authority, then feedback,
// history and the displayed result. Blank codes return ErrEmptyCode with no
// side effects; a second call while one is pending returns ErrBusy.
func (r *Recorder) Submit(ctx context.Context, code string) (Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Result{}, ErrEmptyCode
	}
	if !r.inFlight.CompareAndSwap(false, true) {
		metrics.DetectionsDropped.Inc()
		return Result{}, ErrBusy
	}
	metrics.ScansInFlight.Inc()
	defer func() {
		r.inFlight.Store(false)
		metrics.ScansInFlight.Dec()
	}()

	r.mu.Lock()
	r.current = nil
	mode := r.mode
	r.mu.Unlock()

	req := Request{
		Code:         code,
		OperatorID:   r.operator.ID,
		OperatorName: r.operator.Name,
		Location:     r.location,
		Device:       r.device,
		Mode:         mode,
	}

	res, err := r.authority.Scan(ctx, req)
	if err != nil {
		log.Printf("scan authority unreachable: %v", err)
		res = Result{Error: MsgCommunicationError}
	}
	res.At = time.Now().UTC()

	if res.Success {
		r.signaler.Success()
		metrics.ScansTotal.WithLabelValues("success").Inc()
	} else {
		r.signaler.Failure()
		metrics.ScansTotal.WithLabelValues("failure").Inc()
	}

	r.history.Push(res)
	r.publish(ctx, req, res)

	r.mu.Lock()
	r.current = &res
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	time.AfterFunc(r.resultTTL, func() { r.clearCurrent(gen) })
	return res, nil
}

// clearCurrent drops the displayed result unless a newer submission
// replaced it since the timer was armed.
func (r *Recorder) clearCurrent(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		r.current = nil
	}
}

// publish fans the completed submission out to the relay queue, best effort.
func (r *Recorder) publish(ctx context.Context, req Request, res Result) {
	if r.events == nil {
		return
	}
	evt := Event{
		ID:           uuid.NewString(),
		Code:         req.Code,
		OperatorID:   req.OperatorID,
		OperatorName: req.OperatorName,
		Location:     req.Location,
		Device:       req.Device,
		Mode:         req.Mode,
		Result:       res,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("encode scan event failed: %v", err)
		return
	}
	if err := r.events.Publish(ctx, queue.Message{Type: "scan", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}
