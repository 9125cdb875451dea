package crowdsync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeClock is a settable Clock for tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// t0 is 17 minutes past the hour
var t0 = time.Date(2026, 10, 19, 10, 17, 0, 0, time.UTC)

// recordingStep records the order in which steps run
type recordingStep struct {
	StepBase
	order *[]string
	mu    *sync.Mutex
	err   error
}

func newRecordingStep(name string, order *[]string, mu *sync.Mutex, err error) *recordingStep {
	return &recordingStep{StepBase: StepBase{StepName: name}, order: order, mu: mu, err: err}
}

func (s *recordingStep) Run(context.Context) error {
	s.mu.Lock()
	*s.order = append(*s.order, s.StepName)
	s.mu.Unlock()
	if s.err != nil {
		s.Fail(s.err)
		return s.err
	}
	s.Succeed(s.StepName + " done")
	return nil
}

// blockingStep runs until release is closed
type blockingStep struct {
	StepBase
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStep(name string) *blockingStep {
	return &blockingStep{
		StepBase: StepBase{StepName: name},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (s *blockingStep) Run(context.Context) error {
	s.once.Do(func() { close(s.started) })
	<-s.release
	s.Succeed("released")
	return nil
}

var errBoom = errors.New("boom")
