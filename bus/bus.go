// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bus wraps periph.io I2C devices with the transport policy shared
// by all the monitor's sensor drivers: every call is one exclusive bus
// transaction, transport failures are classified rather than retried, and a
// device that keeps failing is marked permanently disconnected for the rest
// of the process run.
package bus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

var (
	// ErrNotResponding is returned when the device did not acknowledge the
	// transaction or the transaction timed out. The transport never retries;
	// retry policy belongs to the caller.
	ErrNotResponding = errors.New("device not responding")
	// ErrDisconnected is returned once the retry budget is exhausted. The
	// device stays disconnected until the process is restarted; there is no
	// automatic re-probe.
	ErrDisconnected = errors.New("device disconnected")
)

// maxRetries is the number of consecutive failed transactions tolerated
// before a device is written off as not hooked up.
const maxRetries = 5

// Device is a single addressed peripheral on the shared two-wire bus.
type Device struct {
	d         *i2c.Dev
	retries   int
	connected bool
}

// NewDevice returns a Device for the peripheral at addr on bus b. No bus
// traffic happens here; the first transaction probes the device.
func NewDevice(b i2c.Bus, addr uint16) *Device {
	return &Device{d: &i2c.Dev{Bus: b, Addr: addr}, connected: true}
}

// Tx performs one write-then-read transaction against the device. The bus is
// held exclusively for the duration of the transaction; transactions from
// different devices never interleave. Either w or r may be nil for pure
// read or pure write transactions.
func (d *Device) Tx(w, r []byte) error {
	if !d.connected {
		return fmt.Errorf("bus: device 0x%02x: %w", d.d.Addr, ErrDisconnected)
	}
	if err := d.d.Tx(w, r); err != nil {
		d.retries++
		if d.retries > maxRetries {
			d.connected = false
		}
		return fmt.Errorf("bus: device 0x%02x: %w: %v", d.d.Addr, ErrNotResponding, err)
	}
	d.retries = 0
	return nil
}

// Connected reports whether the device is still considered present. A
// device only transitions to disconnected, never back.
func (d *Device) Connected() bool {
	return d.connected
}

// Addr returns the device's 7-bit bus address.
func (d *Device) Addr() uint16 {
	return d.d.Addr
}

func (d *Device) String() string {
	return d.d.String()
}
