package debounce

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) fn(v string) {
	r.mu.Lock()
	r.calls = append(r.calls, v)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	r := newRecorder()
	d := New(30*time.Millisecond, r.fn)
	defer d.Stop()

	for _, v := range []string{"b", "bi", "bir", "biry"} {
		d.Push(v)
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-r.fired:
	case <-time.After(time.Second):
		t.Fatal("debounced call never fired")
	}
	time.Sleep(60 * time.Millisecond)

	got := r.snapshot()
	if len(got) != 1 || got[0] != "biry" {
		t.Errorf("expected single call with latest value, got %v", got)
	}
}

func TestDebouncer_SeparateBursts(t *testing.T) {
	r := newRecorder()
	d := New(20*time.Millisecond, r.fn)
	defer d.Stop()

	d.Push("cab")
	<-r.fired
	d.Push("hotel")
	<-r.fired

	got := r.snapshot()
	if len(got) != 2 || got[0] != "cab" || got[1] != "hotel" {
		t.Errorf("unexpected calls %v", got)
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	r := newRecorder()
	d := New(20*time.Millisecond, r.fn)

	d.Push("pizza")
	d.Stop()
	d.Push("ignored")
	time.Sleep(60 * time.Millisecond)

	if got := r.snapshot(); len(got) != 0 {
		t.Errorf("expected no calls after Stop, got %v", got)
	}
}

func TestDebouncer_Flush(t *testing.T) {
	r := newRecorder()
	d := New(time.Hour, r.fn)
	defer d.Stop()

	if d.Flush() {
		t.Error("expected nothing to flush")
	}
	d.Push("train")
	if !d.Flush() {
		t.Fatal("expected pending call flushed")
	}
	if got := r.snapshot(); len(got) != 1 || got[0] != "train" {
		t.Errorf("unexpected calls %v", got)
	}
}

func TestNew_DefaultDelay(t *testing.T) {
	d := New(0, func(string) {})
	if d.delay != DefaultDelay {
		t.Errorf("expected default delay %v, got %v", DefaultDelay, d.delay)
	}
}
