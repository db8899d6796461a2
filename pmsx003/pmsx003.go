// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pmsx003

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gumgumstudio/envmon/bus"
	"github.com/gumgumstudio/envmon/common"

	"periph.io/x/conn/v3/i2c"
)

// DefaultAddress is the fixed I²C address of the PMS sensors.
const DefaultAddress uint16 = 0x12

const (
	frameSize = 32
	// Declared length of the payload following the length word: 26 data
	// bytes plus the 2 checksum bytes.
	payloadSize = 28
	// Number of bytes covered by the trailing checksum.
	checksumSpan = 30
)

var (
	// ErrBadHeader is returned when a frame does not start with the "BM"
	// magic bytes. Usually a sign of reading mid-frame.
	ErrBadHeader = errors.New("pmsx003: invalid frame header")
	// ErrBadLength is returned when the declared payload length is not 28.
	ErrBadLength = errors.New("pmsx003: invalid frame length")
	// ErrBadChecksum is returned when the frame checksum does not match the
	// sum of the preceding 30 bytes.
	ErrBadChecksum = errors.New("pmsx003: invalid checksum")
)

// Reading holds one decoded measurement frame. Mass concentrations are in
// µg/m³; counts are particles per 0.1L of air.
type Reading struct {
	// Mass concentration under standard particle conditions.
	PM1Std  uint16
	PM25Std uint16
	PM10Std uint16
	// Mass concentration under atmospheric conditions.
	PM1  uint16
	PM25 uint16
	PM10 uint16
	// Particle counts by minimum diameter in µm.
	Particles03  uint16
	Particles05  uint16
	Particles10  uint16
	Particles25  uint16
	Particles50  uint16
	Particles100 uint16
}

func (r *Reading) String() string {
	return fmt.Sprintf("PM1.0: %dµg/m³ PM2.5: %dµg/m³ PM10: %dµg/m³", r.PM1Std, r.PM25Std, r.PM10Std)
}

// Dev represents a PMS particulate sensor.
type Dev struct {
	d *bus.Device
}

// NewI2C returns a driver for the particulate sensor at addr on bus b. The
// sensor needs no configuration; it starts streaming frames on power-up.
func NewI2C(b i2c.Bus, addr uint16) *Dev {
	return &Dev{d: bus.NewDevice(b, addr)}
}

// Sense reads and validates one 32-byte frame and decodes it into r. A
// validation failure leaves r untouched so the previous reading stays
// available.
func (d *Dev) Sense(r *Reading) error {
	buf := make([]byte, frameSize)
	if err := d.d.Tx(nil, buf); err != nil {
		return err
	}
	if buf[0] != 'B' || buf[1] != 'M' {
		return fmt.Errorf("%w: % 02x", ErrBadHeader, buf[0:2])
	}
	if got := binary.BigEndian.Uint16(buf[2:4]); got != payloadSize {
		return fmt.Errorf("%w: %d", ErrBadLength, got)
	}
	declared := binary.BigEndian.Uint16(buf[checksumSpan:])
	if sum := common.Sum16(buf[:checksumSpan]); sum != declared {
		return fmt.Errorf("%w: calculated 0x%04x declared 0x%04x", ErrBadChecksum, sum, declared)
	}
	r.PM1Std = binary.BigEndian.Uint16(buf[4:6])
	r.PM25Std = binary.BigEndian.Uint16(buf[6:8])
	r.PM10Std = binary.BigEndian.Uint16(buf[8:10])
	r.PM1 = binary.BigEndian.Uint16(buf[10:12])
	r.PM25 = binary.BigEndian.Uint16(buf[12:14])
	r.PM10 = binary.BigEndian.Uint16(buf[14:16])
	r.Particles03 = binary.BigEndian.Uint16(buf[16:18])
	r.Particles05 = binary.BigEndian.Uint16(buf[18:20])
	r.Particles10 = binary.BigEndian.Uint16(buf[20:22])
	r.Particles25 = binary.BigEndian.Uint16(buf[22:24])
	r.Particles50 = binary.BigEndian.Uint16(buf[24:26])
	r.Particles100 = binary.BigEndian.Uint16(buf[26:28])
	return nil
}

// Connected reports whether the sensor is still answering on the bus.
func (d *Dev) Connected() bool {
	return d.d.Connected()
}

// Halt implements conn.Resource. The sensor has no low-power command over
// I²C, so this is a no-op.
func (d *Dev) Halt() error {
	return nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("pmsx003: %s", d.d.String())
}
