// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bus

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

// deadBus fails every transaction, like a sensor that is not hooked up.
type deadBus struct{}

func (deadBus) String() string                    { return "dead" }
func (deadBus) SetSpeed(f physic.Frequency) error { return nil }
func (deadBus) Tx(addr uint16, w, r []byte) error { return errors.New("i2c: no ack") }

var _ i2c.Bus = deadBus{}

func TestTxClassifiesFailure(t *testing.T) {
	d := NewDevice(deadBus{}, 0x12)
	err := d.Tx([]byte{0x00}, nil)
	if !errors.Is(err, ErrNotResponding) {
		t.Errorf("expected ErrNotResponding, got %v", err)
	}
	if !d.Connected() {
		t.Error("one failure must not disconnect the device")
	}
}

func TestRetryBudgetDisconnects(t *testing.T) {
	d := NewDevice(deadBus{}, 0x62)
	for i := 0; i < 6; i++ {
		_ = d.Tx(nil, make([]byte, 1))
	}
	if d.Connected() {
		t.Fatal("device should be disconnected after exhausting the retry budget")
	}
	err := d.Tx(nil, make([]byte, 1))
	if !errors.Is(err, ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
}

func TestSuccessResetsRetries(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x77, W: []byte{0xd0}, R: []byte{0x58}},
		},
		DontPanic: true,
	}
	d := NewDevice(pb, 0x77)
	d.retries = maxRetries
	r := make([]byte, 1)
	if err := d.Tx([]byte{0xd0}, r); err != nil {
		t.Fatal(err)
	}
	if d.retries != 0 {
		t.Errorf("successful transaction should reset the retry count, got %d", d.retries)
	}
	if r[0] != 0x58 {
		t.Errorf("read back 0x%02x, expected 0x58", r[0])
	}
}
