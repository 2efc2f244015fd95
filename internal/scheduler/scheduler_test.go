package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/weather-quilt/internal/weather"
)

type fakeSyncer struct {
	mu     sync.Mutex
	calls  []string
	failOn string
	done   chan struct{}
	want   int
}

func (f *fakeSyncer) SyncForward(_ context.Context, city string) (weather.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, city)
	if f.done != nil && len(f.calls) == f.want {
		close(f.done)
	}
	if city == f.failOn {
		return weather.SyncResult{}, errors.New("upstream timeout")
	}
	return weather.SyncResult{RunID: "r", City: city}, nil
}

func (f *fakeSyncer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	f := &fakeSyncer{failOn: "Juneau, AK"}
	s := New(f, Options{Cities: []string{"Anchorage, AK", "Juneau, AK", "Boise, ID"}, Logger: quietLogger()})

	s.RunOnce(context.Background())

	calls := f.Calls()
	if len(calls) != 3 || calls[0] != "Anchorage, AK" || calls[2] != "Boise, ID" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestRunOnce_StopsWhenCancelled(t *testing.T) {
	f := &fakeSyncer{}
	s := New(f, Options{Cities: []string{"Anchorage, AK", "Juneau, AK"}, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunOnce(ctx)

	if calls := f.Calls(); len(calls) != 0 {
		t.Fatalf("expected no calls after cancellation, got %v", calls)
	}
}

func TestStart_RunsOnStart(t *testing.T) {
	f := &fakeSyncer{done: make(chan struct{}), want: 2}
	s := New(f, Options{
		Cities:     []string{"Anchorage, AK", "Juneau, AK"},
		Interval:   time.Hour,
		RunOnStart: true,
		Logger:     quietLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduled job did not run, calls: %v", f.Calls())
	}
}

func TestStart_WaitsForSchedule(t *testing.T) {
	f := &fakeSyncer{}
	s := New(f, Options{Cities: []string{"Anchorage, AK"}, Interval: time.Hour, Logger: quietLogger()})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if calls := f.Calls(); len(calls) != 0 {
		t.Fatalf("expected no run before the first interval, got %v", calls)
	}
	if s.ctx.Err() == nil {
		t.Fatalf("expected Stop to cancel the job context")
	}
}

func TestStart_NoCities(t *testing.T) {
	s := New(&fakeSyncer{}, Options{Logger: quietLogger()})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
}
