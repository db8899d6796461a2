// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.
//
// Unit tests for the package. Playback data uses the calibration
// coefficients and raw readings from the worked example in the Bosch
// datasheet, so the expected compensated values are the datasheet's.

package bmp280

import (
	"errors"
	"math"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

// Calibration block from the datasheet example: T1=27504 T2=26435 T3=-1000
// P1=36477 P2=-10685 P3=3024 P4=2855 P5=140 P6=-7 P7=15500 P8=-14600
// P9=6000.
var datasheetCalibration = []byte{
	0x70, 0x6b, 0x43, 0x67, 0x18, 0xfc, 0x7d, 0x8e, 0x43, 0xd6, 0xd0, 0x0b,
	0x27, 0x0b, 0x8c, 0x00, 0xf9, 0xff, 0x8c, 0x3c, 0xf8, 0xc6, 0x70, 0x17,
}

// Init sequence with DefaultOpts: chip id, soft reset, calibration block,
// ctrl_meas (osrs_t=2x osrs_p=16x mode=sleep), config.
func initOps(calib []byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0xd0}, R: []byte{0x58}},
		{Addr: DefaultAddress, W: []byte{0xe0, 0xb6}},
		{Addr: DefaultAddress, W: []byte{0x88}, R: calib},
		{Addr: DefaultAddress, W: []byte{0xf4, 0x54}},
		{Addr: DefaultAddress, W: []byte{0xf5, 0x00}},
	}
}

// One forced measurement with the datasheet's raw readings: adc_T=519888,
// adc_P=415148 (register values before the 4-bit shift).
var forcedMeasurementOps = []i2ctest.IO{
	{Addr: DefaultAddress, W: []byte{0xf4, 0x55}},
	{Addr: DefaultAddress, W: []byte{0xf3}, R: []byte{0x00}},
	{Addr: DefaultAddress, W: []byte{0xfa}, R: []byte{0x7e, 0xed, 0x00}},
	{Addr: DefaultAddress, W: []byte{0xf7}, R: []byte{0x65, 0x5a, 0xc0}},
}

func getDev(t *testing.T, ops []i2ctest.IO, opts *Opts) *Dev {
	t.Helper()
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(pb, DefaultAddress, opts)
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func TestSense(t *testing.T) {
	ops := append(initOps(datasheetCalibration), forcedMeasurementOps...)
	dev := getDev(t, ops, nil)
	e := physic.Env{}
	if err := dev.Sense(&e); err != nil {
		t.Fatal(err)
	}
	if got := e.Temperature.Celsius(); math.Abs(got-25.08) > 0.01 {
		t.Errorf("temperature = %f, expected ~25.08", got)
	}
	hPa := float64(e.Pressure) / (100.0 * float64(physic.Pascal))
	if math.Abs(hPa-1006.53) > 0.01 {
		t.Errorf("pressure = %f, expected ~1006.53", hPa)
	}
}

// Identical calibration and raw bytes must always produce the identical
// compensated output.
func TestSenseDeterministic(t *testing.T) {
	ops := append(initOps(datasheetCalibration), forcedMeasurementOps...)
	ops = append(ops, forcedMeasurementOps...)
	dev := getDev(t, ops, nil)
	first := physic.Env{}
	second := physic.Env{}
	if err := dev.Sense(&first); err != nil {
		t.Fatal(err)
	}
	if err := dev.Sense(&second); err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("compensation not deterministic: %v != %v", first, second)
	}
}

// A zeroed calibration block drives the first denominator of the pressure
// compensation to zero. This must surface as ErrCalibration, never as a
// silent NaN or Inf.
func TestZeroCalibrationGuard(t *testing.T) {
	ops := append(initOps(make([]byte, 24)), forcedMeasurementOps...)
	dev := getDev(t, ops, nil)
	e := physic.Env{}
	err := dev.Sense(&e)
	if !errors.Is(err, ErrCalibration) {
		t.Errorf("expected ErrCalibration, got %v", err)
	}
}

func TestChipIDMismatch(t *testing.T) {
	ops := append([]i2ctest.IO{}, initOps(datasheetCalibration)...)
	ops[0] = i2ctest.IO{Addr: DefaultAddress, W: []byte{0xd0}, R: []byte{0x60}}
	pb := &i2ctest.Playback{Ops: ops, DontPanic: true}
	dev, err := NewI2C(pb, DefaultAddress, nil)
	var idErr *ChipIDError
	if !errors.As(err, &idErr) {
		t.Fatalf("expected ChipIDError, got %v", err)
	}
	if idErr.Got != 0x60 {
		t.Errorf("ChipIDError.Got = 0x%02x, expected 0x60", idErr.Got)
	}
	// Construction continues in a degraded state.
	if dev == nil {
		t.Fatal("device must still be returned on a chip id mismatch")
	}
}

// Changing the standby period while in Normal mode must produce exactly one
// sleep, config write, wake cycle. The playback fails the test on any
// missing or extra register write.
func TestStandbyChangeWhileNormal(t *testing.T) {
	ops := append(initOps(datasheetCalibration), []i2ctest.IO{
		{Addr: DefaultAddress, W: []byte{0xf4, 0x57}}, // SetMode(Normal)
		{Addr: DefaultAddress, W: []byte{0xf4, 0x54}}, // sleep
		{Addr: DefaultAddress, W: []byte{0xf5, 0x40}}, // config: standby 125ms
		{Addr: DefaultAddress, W: []byte{0xf4, 0x57}}, // back to normal
	}...)
	dev := getDev(t, ops, nil)
	if err := dev.SetMode(Normal); err != nil {
		t.Fatal(err)
	}
	if err := dev.SetStandby(Standby125ms); err != nil {
		t.Fatal(err)
	}
	// Setting the same value again must not touch the bus.
	if err := dev.SetStandby(Standby125ms); err != nil {
		t.Fatal(err)
	}
}

func TestConfigValidation(t *testing.T) {
	dev := getDev(t, initOps(datasheetCalibration), nil)
	if err := dev.SetMode(Mode(0x02)); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for bogus mode, got %v", err)
	}
	if err := dev.SetFilter(Filter(9)); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for bogus filter, got %v", err)
	}
	if err := dev.SetStandby(Standby(8)); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for bogus standby, got %v", err)
	}
	if err := dev.SetTemperatureOversampling(Oversampling(6)); !errors.Is(err, ErrConfig) {
		t.Errorf("expected ErrConfig for bogus oversampling, got %v", err)
	}
}

func TestParseCalibration(t *testing.T) {
	cal := parseCalibration(datasheetCalibration)
	expectedT := [3]float64{27504, 26435, -1000}
	expectedP := [9]float64{36477, -10685, 3024, 2855, 140, -7, 15500, -14600, 6000}
	if cal.t != expectedT {
		t.Errorf("temperature coefficients = %v, expected %v", cal.t, expectedT)
	}
	if cal.p != expectedP {
		t.Errorf("pressure coefficients = %v, expected %v", cal.p, expectedP)
	}
}

func TestSeaLevelPressure(t *testing.T) {
	if got := SeaLevelPressure(21.0, 9.2); math.Abs(got-9.2042) > 0.01 {
		t.Errorf("SeaLevelPressure(21, 9.2) = %f, expected ~9.2042", got)
	}
}

func TestCalcAltitude(t *testing.T) {
	if got := CalcAltitude(1006.53, 1013.25); math.Abs(got-56.08) > 0.1 {
		t.Errorf("CalcAltitude(1006.53, 1013.25) = %f, expected ~56.08", got)
	}
	// At the reference pressure the altitude is zero.
	if got := CalcAltitude(1013.25, 1013.25); math.Abs(got) > 1e-9 {
		t.Errorf("CalcAltitude at reference = %f, expected 0", got)
	}
}

func TestMeasurementTime(t *testing.T) {
	dev := getDev(t, initOps(datasheetCalibration), nil)
	// 2x temperature + 16x pressure: 1 + 2*2 + (2*16 + 0.5) ms.
	expected := 37500 * time.Microsecond
	if got := dev.MeasurementTime(); got != expected {
		t.Errorf("MeasurementTime = %s, expected %s", got, expected)
	}
}
