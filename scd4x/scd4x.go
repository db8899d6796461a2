// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scd4x

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gumgumstudio/envmon/bus"
	"github.com/gumgumstudio/envmon/common"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// PPM=Parts Per Million. Units of measure for CO2 concentration.
type PPM int

// MeasurementMode is the acquisition state of the sensor.
type MeasurementMode int

const (
	// Idle accepts the full command set.
	Idle MeasurementMode = iota
	// PeriodicMeasurement acquires a reading roughly every 5 seconds. Only a
	// small whitelisted command set is valid in this state.
	PeriodicMeasurement
	// LowPowerPeriodicMeasurement acquires a reading roughly every 30
	// seconds.
	LowPowerPeriodicMeasurement
)

const (
	// These devices only support this i2c address.
	SensorAddress uint16 = 0x62
)

// maxTemperatureOffset is the largest offset the fixed point wire encoding
// can carry.
const maxTemperatureOffset = 374 * physic.Celsius

var (
	// ErrCRC means a CRC-8 mismatch somewhere in a reply. No field of that
	// reply can be trusted.
	ErrCRC = errors.New("scd4x: crc mismatch in reply")
	// ErrCalibrationFailed is returned when forced recalibration reports the
	// 0xffff sentinel. The sensor needs around 3 minutes of measurement
	// before recalibration can succeed.
	ErrCalibrationFailed = errors.New("scd4x: forced recalibration failed")
	// ErrOffsetRange is returned for temperature offsets beyond what the
	// device accepts. Rejected before any bus write.
	ErrOffsetRange = errors.New("scd4x: temperature offset out of range")
	// ErrSelfTest is returned when the sensor reports a malfunction.
	ErrSelfTest = errors.New("scd4x: self test reported malfunction")
)

// Structure to simplify sending commands to the device.
type command struct {
	// The 16-bit command word.
	cmdWord uint16
	// The expected number of bytes returned. 0, 3, or 9.
	responseSize int
	// Settling delay between issuing the command and the reply being valid.
	delay time.Duration
	// True if this command is permitted while the sensor is running in
	// acquisition mode.
	whileSensing bool
}

// The various implemented commands with their datasheet settling delays.

var cmdStartPeriodicMeasurement = command{
	cmdWord: 0x21b1,
}
var cmdStartLowPowerPeriodicMeasurement = command{
	cmdWord: 0x21ac,
}
var cmdStopPeriodicMeasurement = command{
	cmdWord:      0x3f86,
	delay:        500 * time.Millisecond,
	whileSensing: true,
}
var cmdGetDataReadyStatus = command{
	cmdWord:      0xe4b8,
	responseSize: 3,
	delay:        time.Millisecond,
	whileSensing: true,
}
var cmdReadMeasurement = command{
	cmdWord:      0xec05,
	responseSize: 9,
	delay:        time.Millisecond,
	whileSensing: true,
}
var cmdPerformForcedRecalibration = command{
	cmdWord:      0x362f,
	responseSize: 3,
	delay:        500 * time.Millisecond,
}
var cmdGetTemperatureOffset = command{
	cmdWord:      0x2318,
	responseSize: 3,
	delay:        time.Millisecond,
}
var cmdSetTemperatureOffset = command{
	cmdWord: 0x241d,
	delay:   time.Millisecond,
}
var cmdGetSensorAltitude = command{
	cmdWord:      0x2322,
	responseSize: 3,
	delay:        time.Millisecond,
}
var cmdSetSensorAltitude = command{
	cmdWord: 0x2427,
	delay:   time.Millisecond,
}
var cmdSetAmbientPressure = command{
	cmdWord:      0xe000,
	delay:        time.Millisecond,
	whileSensing: true,
}
var cmdGetASCEnabled = command{
	cmdWord:      0x2313,
	responseSize: 3,
	delay:        time.Millisecond,
}
var cmdSetASCEnabled = command{
	cmdWord: 0x2416,
	delay:   time.Millisecond,
}
var cmdPerformSelfTest = command{
	cmdWord:      0x3639,
	responseSize: 3,
	delay:        10 * time.Second,
}
var cmdReinit = command{
	cmdWord: 0x3646,
	delay:   30 * time.Millisecond,
}
var cmdPerformFactoryReset = command{
	cmdWord: 0x3632,
	delay:   1200 * time.Millisecond,
}
var cmdPersistSettings = command{
	cmdWord: 0x3615,
	delay:   800 * time.Millisecond,
}
var cmdGetSerialNumber = command{
	cmdWord:      0x3682,
	responseSize: 9,
	delay:        time.Millisecond,
}

// The sensor reading. Returns CO2 PPM, Temperature, and Humidity.
type Env struct {
	physic.Env
	CO2 PPM
}

func (ppm *PPM) String() string {
	return fmt.Sprintf("%d PPM", *ppm)
}

// Return the sensor readings in string format.
func (e *Env) String() string {
	return fmt.Sprintf("Temperature: %s Humidity: %s CO2: %s", e.Temperature.String(), e.Humidity.String(), e.CO2.String())
}

// Dev represents an SCD4x device.
type Dev struct {
	d    *bus.Device
	mu   sync.Mutex
	mode MeasurementMode
	// Last decoded measurement. Returned again between data-ready windows.
	cached Env
}

// NewI2C creates a new SCD4x sensor using the supplied bus and address.
// The constant value SensorAddress should be supplied as the value for
// addr. Any measurement mode left over from a previous run is stopped so
// the device starts from a known Idle state.
func NewI2C(b i2c.Bus, addr uint16) (*Dev, error) {
	d := &Dev{d: bus.NewDevice(b, addr)}
	if _, err := d.sendCommand(cmdStopPeriodicMeasurement, nil); err != nil {
		return nil, err
	}
	return d, nil
}

// StartPeriodicMeasurement puts the sensor into acquisition mode with a
// reading available roughly every 5 seconds.
func (d *Dev) StartPeriodicMeasurement() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.sendCommand(cmdStartPeriodicMeasurement, nil); err != nil {
		return err
	}
	d.mode = PeriodicMeasurement
	return nil
}

// StartLowPowerPeriodicMeasurement puts the sensor into low power
// acquisition mode with a reading available roughly every 30 seconds.
func (d *Dev) StartLowPowerPeriodicMeasurement() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.sendCommand(cmdStartLowPowerPeriodicMeasurement, nil); err != nil {
		return err
	}
	d.mode = LowPowerPeriodicMeasurement
	return nil
}

// StopPeriodicMeasurement returns the sensor to Idle. The command takes
// 500ms to settle.
func (d *Dev) StopPeriodicMeasurement() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopMeasurement()
}

func (d *Dev) stopMeasurement() error {
	if _, err := d.sendCommand(cmdStopPeriodicMeasurement, nil); err != nil {
		return err
	}
	d.mode = Idle
	return nil
}

// Mode returns the current acquisition state.
func (d *Dev) Mode() MeasurementMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// DataReady polls the sensor's status word. A fresh measurement is
// available unless the low 3 bits of the first byte and all of the second
// byte are zero.
func (d *Dev) DataReady() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataReady()
}

func (d *Dev) dataReady() (bool, error) {
	words, err := d.sendCommand(cmdGetDataReadyStatus, nil)
	if err != nil {
		return false, err
	}
	hi := byte(words[0] >> 8)
	lo := byte(words[0] & 0xff)
	return !(hi&0x07 == 0 && lo == 0), nil
}

// Sense returns the most recent CO2, temperature and humidity reading. When
// the sensor has a fresh measurement it is read and cached; between
// measurement windows the cached values are returned again.
func (d *Dev) Sense(e *Env) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ready, err := d.dataReady()
	if err != nil {
		return err
	}
	if ready {
		words, err := d.sendCommand(cmdReadMeasurement, nil)
		if err != nil {
			return err
		}
		d.cached.CO2 = PPM(words[0])
		d.cached.Temperature = countToTemp(words[1])
		d.cached.Humidity = countToHumidity(words[2])
	}
	*e = d.cached
	return nil
}

// ForceCalibration recalibrates the sensor against a known CO2
// concentration and returns the correction applied. The sensor must have
// been measuring for about 3 minutes beforehand; otherwise it answers with
// a sentinel value and ErrCalibrationFailed is returned. Periodic
// measurement is stopped as a side effect.
func (d *Dev) ForceCalibration(target PPM) (PPM, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stopMeasurement(); err != nil {
		return 0, err
	}
	words, err := d.sendCommand(cmdPerformForcedRecalibration, []uint16{uint16(int16(target))})
	if err != nil {
		return 0, err
	}
	if words[0] == 0xffff {
		return 0, ErrCalibrationFailed
	}
	return PPM(int(words[0]) - 0x8000), nil
}

// TemperatureOffset returns the offset added to reported temperature
// readings to account for a bias in the measured signal.
func (d *Dev) TemperatureOffset() (physic.Temperature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	words, err := d.sendCommand(cmdGetTemperatureOffset, nil)
	if err != nil {
		return 0, err
	}
	return countToOffset(words[0]), nil
}

// SetTemperatureOffset writes a new temperature bias offset. The fixed
// point wire encoding holds at most 374°C; anything larger is a caller
// error rejected before any bus traffic. The value is not persisted unless
// Persist() is called.
func (d *Dev) SetTemperatureOffset(offset physic.Temperature) error {
	if offset < 0 || offset > maxTemperatureOffset {
		return fmt.Errorf("%w: %s", ErrOffsetRange, offset)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	count := uint16(float64(offset) / float64(physic.Celsius) * 65536.0 / 175.0)
	_, err := d.sendCommand(cmdSetTemperatureOffset, []uint16{count})
	return err
}

// Altitude returns the configured measurement site altitude.
func (d *Dev) Altitude() (physic.Distance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	words, err := d.sendCommand(cmdGetSensorAltitude, nil)
	if err != nil {
		return 0, err
	}
	return physic.Distance(words[0]) * physic.Metre, nil
}

// SetAltitude configures the altitude of the measurement site in metres
// above sea level so the CO2 calculation can compensate for air pressure.
// The value is not persisted unless Persist() is called.
func (d *Dev) SetAltitude(altitude physic.Distance) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendCommand(cmdSetSensorAltitude, []uint16{uint16(altitude / physic.Metre)})
	return err
}

// SetAmbientPressure supplies the current ambient pressure for CO2
// compensation. Unlike SetAltitude this may be called at any time,
// including during periodic measurement.
func (d *Dev) SetAmbientPressure(p physic.Pressure) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendCommand(cmdSetAmbientPressure, []uint16{uint16(p / (100 * physic.Pascal))})
	return err
}

// SelfCalibrationEnabled reports whether automatic self calibration (ASC)
// is active.
func (d *Dev) SelfCalibrationEnabled() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	words, err := d.sendCommand(cmdGetASCEnabled, nil)
	if err != nil {
		return false, err
	}
	return words[0] != 0, nil
}

// SetSelfCalibrationEnabled toggles automatic self calibration. The value
// is not persisted unless Persist() is called.
func (d *Dev) SetSelfCalibrationEnabled(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := uint16(0)
	if enabled {
		w = 1
	}
	_, err := d.sendCommand(cmdSetASCEnabled, []uint16{w})
	return err
}

// SelfTest checks the sensor for malfunction. It stops periodic
// measurement and takes around 10 seconds.
func (d *Dev) SelfTest() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stopMeasurement(); err != nil {
		return err
	}
	words, err := d.sendCommand(cmdPerformSelfTest, nil)
	if err != nil {
		return err
	}
	if words[0] != 0 {
		return fmt.Errorf("%w: status 0x%04x", ErrSelfTest, words[0])
	}
	return nil
}

// Reinit reloads user settings from EEPROM. Periodic measurement is
// stopped first.
func (d *Dev) Reinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stopMeasurement(); err != nil {
		return err
	}
	_, err := d.sendCommand(cmdReinit, nil)
	return err
}

// FactoryReset clears all configuration stored in EEPROM along with the
// calibration history. Periodic measurement is stopped first.
func (d *Dev) FactoryReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stopMeasurement(); err != nil {
		return err
	}
	_, err := d.sendCommand(cmdPerformFactoryReset, nil)
	return err
}

// Persist writes the current temperature offset, altitude and ASC settings
// to the sensor EEPROM for use on the next power-up.
func (d *Dev) Persist() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendCommand(cmdPersistSettings, nil)
	return err
}

// SerialNumber returns the 48-bit unique serial number of the device.
func (d *Dev) SerialNumber() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	words, err := d.sendCommand(cmdGetSerialNumber, nil)
	if err != nil {
		return 0, err
	}
	return int64(words[0])<<32 | int64(words[1])<<16 | int64(words[2]), nil
}

// Connected reports whether the sensor is still answering on the bus.
func (d *Dev) Connected() bool {
	return d.d.Connected()
}

// Halt stops periodic measurement, leaving the sensor in its idle low
// power state. Used to quiesce the device on shutdown.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == Idle {
		return nil
	}
	return d.stopMeasurement()
}

// Precision returns the sensor's resolution: 1 PPM for CO2, 1/65536 of the
// scale for temperature and humidity.
func (d *Dev) Precision(e *Env) {
	countIncrement := 1.0 / 65536.0
	e.Temperature = physic.Temperature(countIncrement * 175.0 * float64(physic.Celsius))
	e.Pressure = 0
	e.Humidity = physic.RelativeHumidity(countIncrement * 100.0 * float64(physic.PercentRH))
	e.CO2 = 1
}

func (d *Dev) String() string {
	return fmt.Sprintf("scd4x: %s", d.d.String())
}

// makeWriteData converts the slice of word values into byte values with the
// CRC following.
func makeWriteData(data []uint16) []byte {
	bytes := make([]byte, len(data)*3)
	for ix, val := range data {
		bytes[ix*3] = byte(val >> 8)
		bytes[ix*3+1] = byte(val & 0xff)
		bytes[ix*3+2] = common.CRC8(bytes[ix*3 : ix*3+2])
	}
	return bytes
}

// All commands to read or write to the sensor go through this function. The
// command word and optional argument words are written in one transaction,
// the settling delay elapses, and the reply is read back in a second
// transaction with every 3-byte group CRC checked.
func (d *Dev) sendCommand(cmd command, writeData []uint16) ([]uint16, error) {
	if d.mode != Idle && !cmd.whileSensing {
		// This command is not valid during acquisition. Stop measurement
		// rather than letting the sensor reject or mangle it.
		if err := d.stopMeasurement(); err != nil {
			return nil, err
		}
	}

	w := make([]byte, 2, 2+len(writeData)*3)
	w[0] = byte(cmd.cmdWord >> 8)
	w[1] = byte(cmd.cmdWord & 0xff)
	if len(writeData) > 0 {
		w = append(w, makeWriteData(writeData)...)
	}
	if err := d.d.Tx(w, nil); err != nil {
		return nil, fmt.Errorf("scd4x cmd 0x%04x: %w", cmd.cmdWord, err)
	}
	if cmd.delay > 0 {
		time.Sleep(cmd.delay)
	}
	if cmd.responseSize == 0 {
		return nil, nil
	}

	r := make([]byte, cmd.responseSize)
	if err := d.d.Tx(nil, r); err != nil {
		return nil, fmt.Errorf("scd4x cmd 0x%04x: %w", cmd.cmdWord, err)
	}
	result := make([]uint16, cmd.responseSize/3)
	for ix := range result {
		if common.CRC8(r[ix*3:ix*3+2]) != r[ix*3+2] {
			return nil, fmt.Errorf("%w: cmd 0x%04x word %d", ErrCRC, cmd.cmdWord, ix)
		}
		result[ix] = uint16(r[ix*3])<<8 | uint16(r[ix*3+1])
	}
	return result, nil
}

// Formula used for temperature offset calculation.
func countToOffset(count uint16) physic.Temperature {
	offset := 175.0 * float64(count) / 65536.0
	return physic.Temperature(offset * float64(physic.Celsius))
}

// countToTemp converts a device count to Temperature.
func countToTemp(count uint16) physic.Temperature {
	result := -45.0 + 175.0*float64(count)/65536.0
	return physic.ZeroCelsius + physic.Temperature(result*float64(physic.Celsius))
}

func countToHumidity(count uint16) physic.RelativeHumidity {
	frac := float64(count) / 65536.0
	return physic.RelativeHumidity(frac * 100.0 * float64(physic.PercentRH))
}
