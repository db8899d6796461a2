// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package monitor

import "time"

// event is one scheduled callback. Events are created at setup and live for
// the whole process; there is no removal.
type event struct {
	name     string
	interval time.Duration
	callback func()
	last     time.Time
}

// Scheduler dispatches callbacks at independent intervals from a single
// tick loop. Within a tick, events fire in registration order. An event
// fires when at least its interval has elapsed since its last fire; missed
// ticks are not compensated.
type Scheduler struct {
	clock  func() time.Time
	events []*event
}

// NewScheduler returns a Scheduler using the monotonic system clock.
func NewScheduler() *Scheduler {
	return &Scheduler{clock: time.Now}
}

// Add registers callback to run every interval. The first fire is due one
// interval after registration.
func (s *Scheduler) Add(name string, interval time.Duration, callback func()) {
	s.events = append(s.events, &event{
		name:     name,
		interval: interval,
		callback: callback,
		last:     s.clock(),
	})
}

// Tick makes one dispatch pass over the registered events. Each due event
// fires exactly once, regardless of how many intervals elapsed since its
// last fire.
func (s *Scheduler) Tick() {
	now := s.clock()
	for _, e := range s.events {
		if now.Sub(e.last) >= e.interval {
			e.callback()
			e.last = now
		}
	}
}
