// Package enginetest provides a scriptable engine for tests.
package enginetest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/ipibench/internal/engine"
	"github.com/user/ipibench/internal/evidence"
)

var ErrInjected = errors.New("injected failure")

// Fake is an engine whose behaviour is driven by hooks. Every session
// returns Value for any property unless Fail says otherwise.
type Fake struct {
	Value string
	Delay time.Duration
	// Fail decides whether processing a record fails.
	Fail func(rec evidence.Record) bool
	// Panic decides whether processing a record panics.
	Panic func(rec evidence.Record) bool
	// OnProcess runs after every successful Process.
	OnProcess func()

	Processed atomic.Int64
	Opened    atomic.Int64
	Released  atomic.Int64

	mu     sync.Mutex
	closed bool
}

func (f *Fake) NewSession() (engine.Session, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, engine.ErrClosed
	}
	f.Opened.Add(1)
	return &fakeSession{f: f}, nil
}

func (f *Fake) Info() engine.DataFileInfo {
	return engine.DataFileInfo{Path: "fake", Tier: engine.TierEnterprise, Published: time.Now()}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Live returns sessions opened but not yet closed.
func (f *Fake) Live() int64 {
	return f.Opened.Load() - f.Released.Load()
}

type fakeSession struct {
	f      *Fake
	rec    evidence.Record
	done   bool
	closed bool
}

func (s *fakeSession) Submit(rec evidence.Record) error {
	s.rec = rec
	return nil
}

func (s *fakeSession) Process() error {
	if s.f.Delay > 0 {
		time.Sleep(s.f.Delay)
	}
	if s.f.Panic != nil && s.f.Panic(s.rec) {
		panic("enginetest: injected panic")
	}
	if s.f.Fail != nil && s.f.Fail(s.rec) {
		return &engine.DetectionError{Err: ErrInjected}
	}
	s.done = true
	s.f.Processed.Add(1)
	if s.f.OnProcess != nil {
		s.f.OnProcess()
	}
	return nil
}

func (s *fakeSession) Property(string) (string, bool) {
	if !s.done || s.f.Value == "" {
		return "", false
	}
	return s.f.Value, true
}

func (s *fakeSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.f.Released.Add(1)
	return nil
}
