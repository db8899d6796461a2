// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package monitor

import (
	"testing"
	"time"
)

// fakeClock lets tests step scheduler time explicitly.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) time() time.Time {
	return c.now
}

func (c *fakeClock) advanceTo(seconds float64) {
	c.now = time.Unix(0, 0).Add(time.Duration(seconds * float64(time.Second)))
}

func testScheduler() (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := NewScheduler()
	s.clock = clock.time
	return s, clock
}

func TestEventInterval(t *testing.T) {
	s, clock := testScheduler()
	fires := 0
	s.Add("test", 5*time.Second, func() { fires++ })

	steps := []struct {
		at   float64
		want int
	}{
		{at: 1.0, want: 0},
		{at: 4.9, want: 0}, // must not fire before 5s elapsed
		{at: 5.0, want: 1}, // first tick at or past the interval fires
		{at: 5.1, want: 1}, // exactly once per qualifying window
		{at: 9.9, want: 1},
		{at: 10.0, want: 2},
	}
	for _, step := range steps {
		clock.advanceTo(step.at)
		s.Tick()
		if fires != step.want {
			t.Errorf("t=%.1f: fires = %d, expected %d", step.at, fires, step.want)
		}
	}
}

// Missed windows are not compensated: a long gap yields one fire, not one
// per elapsed interval.
func TestNoCatchUp(t *testing.T) {
	s, clock := testScheduler()
	fires := 0
	s.Add("test", 5*time.Second, func() { fires++ })

	clock.advanceTo(42.0)
	s.Tick()
	if fires != 1 {
		t.Errorf("fires = %d after a long gap, expected exactly 1", fires)
	}
	// The next window counts from the late fire, not from the schedule.
	clock.advanceTo(44.0)
	s.Tick()
	if fires != 1 {
		t.Errorf("fires = %d, expected still 1 at t=44", fires)
	}
	clock.advanceTo(47.0)
	s.Tick()
	if fires != 2 {
		t.Errorf("fires = %d, expected 2 at t=47", fires)
	}
}

func TestRegistrationOrder(t *testing.T) {
	s, clock := testScheduler()
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		s.Add(name, time.Second, func() { order = append(order, name) })
	}
	clock.advanceTo(2.0)
	s.Tick()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("events fired out of registration order: %v", order)
	}
}

func TestIndependentIntervals(t *testing.T) {
	s, clock := testScheduler()
	fast, slow := 0, 0
	s.Add("fast", time.Second, func() { fast++ })
	s.Add("slow", 3*time.Second, func() { slow++ })

	for _, at := range []float64{1, 2, 3, 4} {
		clock.advanceTo(at)
		s.Tick()
	}
	if fast != 4 {
		t.Errorf("fast fires = %d, expected 4", fast)
	}
	if slow != 1 {
		t.Errorf("slow fires = %d, expected 1", slow)
	}
}
