package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock fires AfterFunc callbacks synchronously from Advance, in deadline order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.fired && !t.stopped && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at.Equal(due[j].at) {
				return due[i].seq < due[j].seq
			}
			return due[i].at.Before(due[j].at)
		})
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

// Pending counts timers that have neither fired nor been stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type emitted struct {
	ConnID  string
	Event   string
	Payload any
}

// recordingEmitter records every push. Connections listed in offline refuse delivery.
type recordingEmitter struct {
	mu      sync.Mutex
	sent    []emitted
	all     []emitted
	offline map[string]bool
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{offline: make(map[string]bool)}
}

func (e *recordingEmitter) Emit(connID, event string, payload any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offline[connID] {
		return false
	}
	e.sent = append(e.sent, emitted{ConnID: connID, Event: event, Payload: payload})
	return true
}

func (e *recordingEmitter) EmitAll(event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, emitted{Event: event, Payload: payload})
}

// To returns the payloads of event pushed to connID.
func (e *recordingEmitter) To(connID, event string) []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []any
	for _, s := range e.sent {
		if s.ConnID == connID && s.Event == event {
			out = append(out, s.Payload)
		}
	}
	return out
}

func (e *recordingEmitter) Sent() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.sent...)
}

func (e *recordingEmitter) Broadcasts() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.all...)
}

func (e *recordingEmitter) LastBroadcast() []PresenceRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.all) == 0 {
		return nil
	}
	return e.all[len(e.all)-1].Payload.([]PresenceRecord)
}

// fakeProvider returns a canned reply or error and records the prompts it was given.
type fakeProvider struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	texts   []string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, systemPrompt, userText string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, systemPrompt)
	p.texts = append(p.texts, userText)
	return p.reply, p.err
}

func (p *fakeProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}
