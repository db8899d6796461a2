// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bmp280

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gumgumstudio/envmon/bus"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// DefaultAddress is the I²C address with SDO pulled high. With SDO low the
// device answers on 0x76.
const DefaultAddress uint16 = 0x77

// chipID is the fixed contents of the ID register on a genuine BMP280.
const chipID = 0x58

// Register addresses.
const (
	regChipID       = 0xd0
	regCalibration  = 0x88
	regSoftReset    = 0xe0
	regStatus       = 0xf3
	regCtrlMeas     = 0xf4
	regConfig       = 0xf5
	regPressureData = 0xf7
	regTempData     = 0xfa
)

// softResetValue written to regSoftReset triggers a power-on reset.
const softResetValue = 0xb6

// statusMeasuring is set in the status register while a conversion is
// running.
const statusMeasuring = 0x08

// Mode is the power mode of the device.
type Mode uint8

const (
	// Sleep performs no measurements. Registers remain accessible.
	Sleep Mode = 0x00
	// Forced runs a single measurement, then returns to sleep.
	Forced Mode = 0x01
	// Normal cycles between measurement and standby continuously.
	Normal Mode = 0x03
)

// Oversampling is the number of raw samples the device averages per
// reading. Higher values reduce noise at the cost of measurement time.
type Oversampling uint8

const (
	OversamplingOff Oversampling = 0x00
	Oversampling1x  Oversampling = 0x01
	Oversampling2x  Oversampling = 0x02
	Oversampling4x  Oversampling = 0x03
	Oversampling8x  Oversampling = 0x04
	Oversampling16x Oversampling = 0x05
)

// Filter is the IIR filter time constant. Higher values reduce the response
// to rapid pressure changes such as a slammed door.
type Filter uint8

const (
	FilterOff Filter = 0x00
	Filter2x  Filter = 0x01
	Filter4x  Filter = 0x02
	Filter8x  Filter = 0x03
	Filter16x Filter = 0x04
)

// Standby is the inactive period between measurements in Normal mode.
type Standby uint8

const (
	Standby500us  Standby = 0x00
	Standby62ms   Standby = 0x01
	Standby125ms  Standby = 0x02
	Standby250ms  Standby = 0x03
	Standby500ms  Standby = 0x04
	Standby1000ms Standby = 0x05
	Standby10ms   Standby = 0x06
	Standby20ms   Standby = 0x07
)

var (
	// ErrConfig is returned for an enumerated setting outside its valid
	// range. Rejected before any bus write.
	ErrConfig = errors.New("bmp280: unsupported configuration value")
	// ErrCalibration is returned when the compensation formula hits a zero
	// denominator. This signals corrupted calibration coefficients, not a
	// transient condition.
	ErrCalibration = errors.New("bmp280: invalid calibration coefficients")
	// ErrMeasurementTimeout is returned when the device never clears its
	// measuring bit after a forced conversion.
	ErrMeasurementTimeout = errors.New("bmp280: timeout waiting for measurement")
)

// ChipIDError is reported by NewI2C when the ID register does not hold the
// BMP280 value. The device is still initialised; the caller may choose to
// continue in a likely nonfunctional state or discard the driver.
type ChipIDError struct {
	Got byte
}

func (e *ChipIDError) Error() string {
	return fmt.Sprintf("bmp280: unexpected chip id 0x%02x, want 0x%02x", e.Got, chipID)
}

// calibration is the factory coefficient block, read once at init and
// immutable afterwards. Stored as floats for the compensation formulas.
type calibration struct {
	t [3]float64
	p [9]float64
}

// parseCalibration decodes the 24-byte block at regCalibration: little
// endian words, T1 and P1 unsigned, the rest signed.
func parseCalibration(buf []byte) calibration {
	var cal calibration
	word := func(ix int) uint16 { return binary.LittleEndian.Uint16(buf[ix*2 : ix*2+2]) }
	cal.t[0] = float64(word(0))
	cal.t[1] = float64(int16(word(1)))
	cal.t[2] = float64(int16(word(2)))
	cal.p[0] = float64(word(3))
	for ix := 1; ix < 9; ix++ {
		cal.p[ix] = float64(int16(word(3 + ix)))
	}
	return cal
}

// Opts holds the device configuration. Zero values are valid register
// settings, so use DefaultOpts as a starting point.
type Opts struct {
	Mode                    Mode
	TemperatureOversampling Oversampling
	PressureOversampling    Oversampling
	Filter                  Filter
	Standby                 Standby
}

// DefaultOpts is a reasonable configuration for slow moving environmental
// monitoring: sleep until polled, modest temperature oversampling, heavy
// pressure oversampling.
var DefaultOpts = Opts{
	Mode:                    Sleep,
	TemperatureOversampling: Oversampling2x,
	PressureOversampling:    Oversampling16x,
	Filter:                  FilterOff,
	Standby:                 Standby500us,
}

// Dev represents a BMP280 device.
type Dev struct {
	d    *bus.Device
	mu   sync.Mutex
	opts Opts
	cal  calibration
	// Fine temperature from the last temperature compensation. Input to
	// the pressure compensation.
	tFine int
	// Sea level reference pressure in hPa for altitude calculation.
	seaLevel float64
}

// NewI2C initialises a BMP280 at addr on bus b: chip-ID check, soft reset,
// calibration block read, then the initial ctrl_meas and config writes from
// opts. Opts may be nil, in which case DefaultOpts applies.
//
// A chip-ID mismatch does not abort construction: the remaining init still
// runs and the device is returned together with a *ChipIDError, leaving the
// choice of running degraded to the caller. Transport failures return a nil
// device.
func NewI2C(b i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if err := validateOpts(opts); err != nil {
		return nil, err
	}
	d := &Dev{d: bus.NewDevice(b, addr), opts: *opts, seaLevel: 1013.25}

	var chipErr error
	id := make([]byte, 1)
	if err := d.d.Tx([]byte{regChipID}, id); err != nil {
		return nil, err
	}
	if id[0] != chipID {
		chipErr = &ChipIDError{Got: id[0]}
	}

	if err := d.reset(); err != nil {
		return nil, err
	}
	buf := make([]byte, 24)
	if err := d.d.Tx([]byte{regCalibration}, buf); err != nil {
		return nil, err
	}
	d.cal = parseCalibration(buf)
	if err := d.writeCtrlMeas(); err != nil {
		return nil, err
	}
	if err := d.writeConfig(); err != nil {
		return nil, err
	}
	return d, chipErr
}

// reset soft resets the device. The datasheet specifies a 2ms startup; 4ms
// leaves some margin.
func (d *Dev) reset() error {
	if err := d.d.Tx([]byte{regSoftReset, softResetValue}, nil); err != nil {
		return err
	}
	time.Sleep(4 * time.Millisecond)
	return nil
}

// ctrlMeas encodes the oversampling and mode settings: osrs_t in bits 7..5,
// osrs_p in bits 4..2, mode in bits 1..0.
func (d *Dev) ctrlMeas(mode Mode) byte {
	return byte(d.opts.TemperatureOversampling)<<5 | byte(d.opts.PressureOversampling)<<2 | byte(mode)
}

// config encodes the standby period (bits 7..5, only meaningful in Normal
// mode) and the IIR filter constant (bits 4..2).
func (d *Dev) config() byte {
	var cfg byte
	if d.opts.Mode == Normal {
		cfg |= byte(d.opts.Standby) << 5
	}
	cfg |= byte(d.opts.Filter) << 2
	return cfg
}

func (d *Dev) writeCtrlMeas() error {
	return d.d.Tx([]byte{regCtrlMeas, d.ctrlMeas(d.opts.Mode)}, nil)
}

// writeConfig updates the config register. The hardware silently ignores
// config writes while measuring continuously, so a device in Normal mode is
// put to sleep for the write and woken up again: exactly one
// sleep-write-wake cycle.
func (d *Dev) writeConfig() error {
	wasNormal := d.opts.Mode == Normal
	if wasNormal {
		if err := d.d.Tx([]byte{regCtrlMeas, d.ctrlMeas(Sleep)}, nil); err != nil {
			return err
		}
	}
	if err := d.d.Tx([]byte{regConfig, d.config()}, nil); err != nil {
		return err
	}
	if wasNormal {
		return d.writeCtrlMeas()
	}
	return nil
}

// Mode returns the configured power mode.
func (d *Dev) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.Mode
}

// SetMode switches the device power mode.
func (d *Dev) SetMode(mode Mode) error {
	if mode != Sleep && mode != Forced && mode != Normal {
		return fmt.Errorf("%w: mode 0x%02x", ErrConfig, byte(mode))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.Mode = mode
	return d.writeCtrlMeas()
}

// SetTemperatureOversampling updates the temperature oversampling setting.
func (d *Dev) SetTemperatureOversampling(os Oversampling) error {
	if os > Oversampling16x {
		return fmt.Errorf("%w: oversampling 0x%02x", ErrConfig, byte(os))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.TemperatureOversampling = os
	return d.writeCtrlMeas()
}

// SetPressureOversampling updates the pressure oversampling setting.
func (d *Dev) SetPressureOversampling(os Oversampling) error {
	if os > Oversampling16x {
		return fmt.Errorf("%w: oversampling 0x%02x", ErrConfig, byte(os))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.PressureOversampling = os
	return d.writeCtrlMeas()
}

// SetFilter updates the IIR filter time constant.
func (d *Dev) SetFilter(f Filter) error {
	if f > Filter16x {
		return fmt.Errorf("%w: filter 0x%02x", ErrConfig, byte(f))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opts.Filter == f {
		return nil
	}
	d.opts.Filter = f
	return d.writeConfig()
}

// SetStandby updates the inactive period used in Normal mode.
func (d *Dev) SetStandby(s Standby) error {
	if s > Standby20ms {
		return fmt.Errorf("%w: standby 0x%02x", ErrConfig, byte(s))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opts.Standby == s {
		return nil
	}
	d.opts.Standby = s
	return d.writeConfig()
}

func validateOpts(opts *Opts) error {
	if opts.Mode != Sleep && opts.Mode != Forced && opts.Mode != Normal {
		return fmt.Errorf("%w: mode 0x%02x", ErrConfig, byte(opts.Mode))
	}
	if opts.TemperatureOversampling > Oversampling16x || opts.PressureOversampling > Oversampling16x {
		return fmt.Errorf("%w: oversampling", ErrConfig)
	}
	if opts.Filter > Filter16x {
		return fmt.Errorf("%w: filter 0x%02x", ErrConfig, byte(opts.Filter))
	}
	if opts.Standby > Standby20ms {
		return fmt.Errorf("%w: standby 0x%02x", ErrConfig, byte(opts.Standby))
	}
	return nil
}

// read24 reads a 3-byte big-endian data register and drops the 4 reserved
// low bits, yielding the 20-bit raw ADC value.
func (d *Dev) read24(reg byte) (float64, error) {
	buf := make([]byte, 3)
	if err := d.d.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	raw := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	return float64(raw >> 4), nil
}

// waitMeasurement polls the status register every 2ms until the measuring
// bit clears. Bounded; a device that never finishes yields
// ErrMeasurementTimeout instead of spinning forever.
func (d *Dev) waitMeasurement() error {
	deadline := time.Now().Add(time.Second)
	status := make([]byte, 1)
	for time.Now().Before(deadline) {
		if err := d.d.Tx([]byte{regStatus}, status); err != nil {
			return err
		}
		if status[0]&statusMeasuring == 0 {
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
	return ErrMeasurementTimeout
}

// measure triggers a conversion if needed and refreshes tFine from the raw
// temperature reading. Returns the temperature in °C.
func (d *Dev) measureTemperature() (float64, error) {
	if d.opts.Mode != Normal {
		// One forced conversion, then the device drops back to sleep.
		if err := d.d.Tx([]byte{regCtrlMeas, d.ctrlMeas(Forced)}, nil); err != nil {
			return 0, err
		}
		if err := d.waitMeasurement(); err != nil {
			return 0, err
		}
	}
	raw, err := d.read24(regTempData)
	if err != nil {
		return 0, err
	}
	d.tFine = d.compensateTemperature(raw)
	return float64(d.tFine) / 5120.0, nil
}

// compensateTemperature applies the two-term Bosch compensation and returns
// the fine temperature value.
func (d *Dev) compensateTemperature(raw float64) int {
	var1 := (raw/16384.0 - d.cal.t[0]/1024.0) * d.cal.t[1]
	var2 := (raw/131072.0 - d.cal.t[0]/8192.0) * (raw/131072.0 - d.cal.t[0]/8192.0) * d.cal.t[2]
	return int(var1 + var2)
}

// compensatePressure applies the nine-term Bosch compensation and returns
// pressure in hPa. Algorithm from the BMP280 reference driver:
// https://github.com/BoschSensortec/BMP280_driver/blob/master/bmp280.c
func (d *Dev) compensatePressure(raw float64, tFine int) (float64, error) {
	var1 := float64(tFine)/2.0 - 64000.0
	var2 := var1 * var1 * d.cal.p[5] / 32768.0
	var2 = var2 + var1*d.cal.p[4]*2.0
	var2 = var2/4.0 + d.cal.p[3]*65536.0
	var3 := d.cal.p[2] * var1 * var1 / 524288.0
	var1 = (var3 + d.cal.p[1]*var1) / 524288.0
	var1 = (1.0 + var1/32768.0) * d.cal.p[0]
	if var1 == 0 {
		return 0, ErrCalibration
	}
	pressure := 1048576.0 - raw
	pressure = (pressure - var2/4096.0) * 6250.0 / var1
	var1 = d.cal.p[8] * pressure * pressure / 2147483648.0
	var2 = pressure * d.cal.p[7] / 32768.0
	pressure = pressure + (var1+var2+d.cal.p[6])/16.0
	return pressure / 100.0, nil
}

// Sense reads one compensated temperature and pressure measurement. In
// Sleep or Forced mode a single forced conversion is triggered and awaited;
// in Normal mode the latest conversion result is read directly.
func (d *Dev) Sense(e *physic.Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tempC, err := d.measureTemperature()
	if err != nil {
		return err
	}
	raw, err := d.read24(regPressureData)
	if err != nil {
		return err
	}
	hPa, err := d.compensatePressure(raw, d.tFine)
	if err != nil {
		return err
	}
	e.Temperature = physic.ZeroCelsius + physic.Temperature(tempC*float64(physic.Celsius))
	e.Pressure = physic.Pressure(hPa * 100.0 * float64(physic.Pascal))
	return nil
}

// Altitude reads the current pressure and derives the altitude above sea
// level from the configured reference pressure using the barometric
// formula.
func (d *Dev) Altitude() (float64, error) {
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	hPa := float64(e.Pressure) / (100.0 * float64(physic.Pascal))
	return CalcAltitude(hPa, d.seaLevel), nil
}

// SetAltitude back-solves the sea level reference pressure from a known
// altitude in metres and the current measured pressure, calibrating
// subsequent Altitude() results in the field.
func (d *Dev) SetAltitude(metres float64) error {
	e := physic.Env{}
	if err := d.Sense(&e); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	hPa := float64(e.Pressure) / (100.0 * float64(physic.Pascal))
	d.seaLevel = hPa / math.Pow(1.0-metres/44330.0, 5.255)
	return nil
}

// SeaLevelReference returns the configured sea level pressure in hPa.
func (d *Dev) SeaLevelReference() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seaLevel
}

// SetSeaLevelReference sets the sea level pressure in hPa used by
// Altitude().
func (d *Dev) SetSeaLevelReference(hPa float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seaLevel = hPa
}

// MeasurementTime returns the typical time a measurement takes with the
// current oversampling settings.
func (d *Dev) MeasurementTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	us := 1000.0
	if d.opts.TemperatureOversampling != OversamplingOff {
		us += 2000.0 * float64(oversamplingFactor(d.opts.TemperatureOversampling))
	}
	if d.opts.PressureOversampling != OversamplingOff {
		us += 2000.0*float64(oversamplingFactor(d.opts.PressureOversampling)) + 500.0
	}
	return time.Duration(us) * time.Microsecond
}

func oversamplingFactor(os Oversampling) int {
	if os == OversamplingOff {
		return 0
	}
	return 1 << (os - 1)
}

// Connected reports whether the sensor is still answering on the bus.
func (d *Dev) Connected() bool {
	return d.d.Connected()
}

// Halt puts the device into sleep mode. Used to quiesce the device on
// shutdown.
func (d *Dev) Halt() error {
	return d.SetMode(Sleep)
}

func (d *Dev) String() string {
	return fmt.Sprintf("bmp280: %s", d.d.String())
}

// CalcAltitude converts a measured pressure and a sea level reference, both
// in hPa, to an altitude in metres using the barometric formula.
func CalcAltitude(pressure, seaLevel float64) float64 {
	return 44330.0 * (1.0 - math.Pow(pressure/seaLevel, 0.1903))
}

// SeaLevelPressure converts a pressure measured at a known altitude to the
// equivalent sea level pressure using the lapse rate approximation.
// altitude is in metres, pressure in hPa.
//
// https://glossary.ametsoc.org/wiki/Sea_level_pressure
func SeaLevelPressure(altitude, pressure float64) float64 {
	return pressure * (293.0 / (293.0 - altitude*0.0065))
}
