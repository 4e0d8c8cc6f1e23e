package scan

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduguard/internal/feedback"
	"eduguard/internal/metrics"
	"eduguard/internal/queue"
)

type stubAuthority struct {
	mu    sync.Mutex
	calls int
	fn    func(req Request) (Result, error)
}

func (s *stubAuthority) Scan(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(req)
}

func (s *stubAuthority) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSignaler struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (s *stubSignaler) Success() {
	s.mu.Lock()
	s.successes++
	s.mu.Unlock()
}

func (s *stubSignaler) Failure() {
	s.mu.Lock()
	s.failures++
	s.mu.Unlock()
}

func testOperator() Operator {
	return Operator{ID: "op-1", Name: "Guarda Principal"}
}

func newTestRecorder(a Authority, sig *stubSignaler, q queue.Queue, ttl time.Duration) *Recorder {
	var signaler feedback.Signaler
	if sig != nil {
		signaler = sig
	}
	return NewRecorder(a, signaler, q, Config{
		Operator:  testOperator(),
		Location:  "Portão Principal",
		Device:    "Câmara Telemóvel",
		ResultTTL: ttl,
	})
}

func TestModeExclusivity(t *testing.T) {
	rec := newTestRecorder(&stubAuthority{}, nil, nil, time.Second)

	assert.Equal(t, Entry, rec.Mode())

	require.NoError(t, rec.SetMode(Exit))
	assert.Equal(t, Exit, rec.Mode())

	// Re-setting the active mode is a no-op.
	require.NoError(t, rec.SetMode(Exit))
	assert.Equal(t, Exit, rec.Mode())

	assert.Error(t, rec.SetMode(MovementMode("SIDEWAYS")))
	assert.Equal(t, Exit, rec.Mode())
}

func TestSubmitEmptyCodeIsNoOp(t *testing.T) {
	authority := &stubAuthority{fn: func(Request) (Result, error) {
		return Result{Success: true, Student: &Student{}}, nil
	}}
	rec := newTestRecorder(authority, nil, nil, time.Second)

	for _, code := range []string{"", "   ", "\t\n"} {
		_, err := rec.Submit(context.Background(), code)
		assert.ErrorIs(t, err, ErrEmptyCode)
	}

	assert.Equal(t, 0, authority.callCount())
	assert.Equal(t, 0, rec.History().Len())
	assert.Nil(t, rec.Current())
}

func TestSingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	authority := &stubAuthority{fn: func(Request) (Result, error) {
		close(started)
		<-release
		return Result{Success: true, Student: &Student{Name: "Ana Machel"}}, nil
	}}
	rec := newTestRecorder(authority, nil, nil, time.Second)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := rec.Submit(context.Background(), "QR-TOKEN-001-SECURE")
		assert.NoError(t, err)
	}()

	<-started
	assert.True(t, rec.InFlight())

	// Manual and camera detections arriving mid-flight are rejected, not queued.
	_, err := rec.Submit(context.Background(), "QR-TOKEN-002-SECURE")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	wg.Wait()

	assert.False(t, rec.InFlight())
	assert.Equal(t, 1, authority.callCount())
	assert.Equal(t, 1, rec.History().Len())
}

func TestSuccessfulEntryScenario(t *testing.T) {
	authority := &stubAuthority{fn: func(req Request) (Result, error) {
		assert.Equal(t, "QR-TOKEN-003-SECURE", req.Code)
		assert.Equal(t, Entry, req.Mode)
		assert.Equal(t, "op-1", req.OperatorID)
		assert.Equal(t, "Portão Principal", req.Location)
		return Result{
			Success:   true,
			Movement:  Entry,
			Student:   &Student{ID: "stu-003", Name: "Maria Chissano", Grade: "7ª Classe", Class: "A"},
			Timestamp: &Stamp{Date: "01/09/2026", Time: "07:45:12"},
		}, nil
	}}
	sig := &stubSignaler{}
	rec := newTestRecorder(authority, sig, nil, time.Second)
	require.NoError(t, rec.SetMode(Entry))

	res, err := rec.Submit(context.Background(), "QR-TOKEN-003-SECURE")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, Entry, res.Movement)
	assert.Equal(t, "Maria Chissano", res.Student.Name)
	assert.Empty(t, res.Error)

	require.NotNil(t, rec.Current())
	assert.Equal(t, "Maria Chissano", rec.Current().Student.Name)
	assert.Equal(t, 1, rec.History().Len())
	assert.Equal(t, 1, sig.successes)
	assert.Equal(t, 0, sig.failures)
}

func TestDuplicateRejectionScenario(t *testing.T) {
	authority := &stubAuthority{fn: func(Request) (Result, error) {
		return Result{Error: "Já existe um registro de ENTRADA."}, nil
	}}
	sig := &stubSignaler{}
	rec := newTestRecorder(authority, sig, nil, time.Second)

	res, err := rec.Submit(context.Background(), "QR-TOKEN-001-SECURE")
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "Já existe um registro de ENTRADA.", res.Error)
	assert.Nil(t, res.Student)

	// Failures are recorded in the session history too.
	assert.Equal(t, 1, rec.History().Len())
	assert.Equal(t, 1, sig.failures)
	assert.Equal(t, 0, sig.successes)
}

func TestTransportFailureScenario(t *testing.T) {
	authority := &stubAuthority{fn: func(Request) (Result, error) {
		return Result{}, errors.New("dial tcp 10.0.0.9:443: i/o timeout")
	}}
	sig := &stubSignaler{}
	rec := newTestRecorder(authority, sig, nil, time.Second)

	res, err := rec.Submit(context.Background(), "QR-TOKEN-001-SECURE")
	require.NoError(t, err)

	// The operator sees the generic message, never the raw transport error.
	assert.False(t, res.Success)
	assert.Equal(t, MsgCommunicationError, res.Error)
	assert.Equal(t, 1, rec.History().Len())
	assert.Equal(t, 1, sig.failures)
}

func TestResultVariantExclusivity(t *testing.T) {
	authority := &stubAuthority{}
	outcomes := []func(Request) (Result, error){
		func(Request) (Result, error) {
			return Result{Success: true, Movement: Exit, Student: &Student{Name: "Pedro Guebuza"}}, nil
		},
		func(Request) (Result, error) { return Result{Error: "QR Code não reconhecido"}, nil },
		func(Request) (Result, error) { return Result{}, errors.New("boom") },
	}
	rec := newTestRecorder(authority, nil, nil, time.Second)

	for _, fn := range outcomes {
		authority.fn = fn
		res, err := rec.Submit(context.Background(), "QR-TOKEN-004-SECURE")
		require.NoError(t, err)
		if res.Success {
			assert.NotNil(t, res.Student)
			assert.Empty(t, res.Error)
		} else {
			assert.NotEmpty(t, res.Error)
			assert.Nil(t, res.Student)
		}
	}
}

func TestDisplayedResultAutoClears(t *testing.T) {
	authority := &stubAuthority{fn: func(Request) (Result, error) {
		return Result{Success: true, Student: &Student{Name: "Sofia Nyusi"}}, nil
	}}
	rec := newTestRecorder(authority, nil, nil, 40*time.Millisecond)

	_, err := rec.Submit(context.Background(), "QR-TOKEN-005-SECURE")
	require.NoError(t, err)
	require.NotNil(t, rec.Current())

	assert.Eventually(t, func() bool { return rec.Current() == nil },
		500*time.Millisecond, 10*time.Millisecond)

	// History survives the displayed result.
	assert.Equal(t, 1, rec.History().Len())
}

func TestAutoClearSkipsNewerResult(t *testing.T) {
	authority := &stubAuthority{fn: func(req Request) (Result, error) {
		return Result{Success: true, Student: &Student{Name: req.Code}}, nil
	}}
	rec := newTestRecorder(authority, nil, nil, 100*time.Millisecond)

	_, err := rec.Submit(context.Background(), "first")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = rec.Submit(context.Background(), "second")
	require.NoError(t, err)

	// The first result's timer fires without clearing the second result.
	time.Sleep(70 * time.Millisecond)
	require.NotNil(t, rec.Current())
	assert.Equal(t, "second", rec.Current().Student.Name)
}

func TestInFlightGaugeCountsOverlappingSessions(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	authority := &stubAuthority{fn: func(Request) (Result, error) {
		started <- struct{}{}
		<-release
		return Result{Success: true, Student: &Student{}}, nil
	}}

	recA := newTestRecorder(authority, nil, nil, time.Second)
	recB := newTestRecorder(authority, nil, nil, time.Second)

	var wg sync.WaitGroup
	for _, rec := range []*Recorder{recA, recB} {
		wg.Add(1)
		go func(rec *Recorder) {
			defer wg.Done()
			_, err := rec.Submit(context.Background(), "QR-TOKEN-001-SECURE")
			assert.NoError(t, err)
		}(rec)
	}

	<-started
	<-started
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ScansInFlight))

	close(release)
	wg.Wait()
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ScansInFlight))
}

func TestSubmitPublishesScanEvent(t *testing.T) {
	authority := &stubAuthority{fn: func(Request) (Result, error) {
		return Result{Success: true, Movement: Entry, Student: &Student{ID: "stu-002", Name: "João Mondlane"}}, nil
	}}
	q := queue.NewInMemory(4)
	rec := newTestRecorder(authority, nil, q, time.Second)

	_, err := rec.Submit(context.Background(), "QR-TOKEN-002-SECURE")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := <-messages
	assert.Equal(t, "scan", msg.Type)

	var evt Event
	require.NoError(t, json.Unmarshal(msg.Body, &evt))
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "QR-TOKEN-002-SECURE", evt.Code)
	assert.Equal(t, "op-1", evt.OperatorID)
	assert.Equal(t, "João Mondlane", evt.Result.Student.Name)
}
