// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package monitor

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/gumgumstudio/envmon/bmp280"
	"github.com/gumgumstudio/envmon/pmsx003"
	"github.com/gumgumstudio/envmon/scd4x"
)

// Options configures the monitor. Zero intervals fall back to the
// defaults; a zero Altitude leaves the CO2 sensor's pressure compensation
// alone.
type Options struct {
	Log *logrus.Logger

	ParticulateInterval time.Duration
	CO2Interval         time.Duration
	BarometerInterval   time.Duration

	// Sensors not fitted on this installation. The zero value polls
	// everything.
	DisableParticulates bool
	DisableCO2          bool
	DisableBarometer    bool

	// Altitude of the measurement site in metres, used to seed the CO2
	// sensor's pressure compensation.
	Altitude float64
	// Use the CO2 sensor's low power acquisition mode (one reading per
	// ~30s instead of ~5s).
	LowPowerCO2 bool
	// On-sensor temperature bias offset, written when non-zero.
	CO2TemperatureOffset physic.Temperature
	// Barometer register settings. Nil selects bmp280.DefaultOpts.
	Barometer *bmp280.Opts
}

// Default polling intervals, sized so the slowest sensor still produces
// fresh data every cycle without hammering the shared bus.
const (
	DefaultParticulateInterval = 5 * time.Second
	DefaultCO2Interval         = 10 * time.Second
	DefaultBarometerInterval   = time.Second
)

// Monitor owns the reading store, the scheduler and the sensor drivers. It
// is single threaded: all device access happens from Run's tick loop.
type Monitor struct {
	log      *logrus.Logger
	sched    *Scheduler
	readings Readings

	pm   *pmsx003.Dev
	co2  *scd4x.Dev
	baro *bmp280.Dev

	// Set once a device has been reported as gone, so the log is not
	// flooded every tick afterwards.
	pmGone, co2Gone, baroGone bool
}

// New builds the drivers for every sensor on bus b and registers their read
// callbacks with the scheduler. A sensor that fails to initialise is logged
// and left out; the remaining sensors keep working. Only a fully dead bus
// is an error.
func New(b i2c.Bus, opts *Options) (*Monitor, error) {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Monitor{log: log, sched: NewScheduler()}

	if !opts.DisableParticulates {
		m.pm = pmsx003.NewI2C(b, pmsx003.DefaultAddress)
	}

	if !opts.DisableCO2 {
		co2, err := scd4x.NewI2C(b, scd4x.SensorAddress)
		if err != nil {
			log.WithError(err).Warn("CO2 sensor unavailable")
		} else {
			m.co2 = co2
			if opts.Altitude > 0 {
				if err := co2.SetAltitude(physic.Distance(opts.Altitude) * physic.Metre); err != nil {
					log.WithError(err).Warn("failed to set CO2 sensor altitude")
				}
			}
			if opts.CO2TemperatureOffset != 0 {
				if err := co2.SetTemperatureOffset(opts.CO2TemperatureOffset); err != nil {
					log.WithError(err).Warn("failed to set CO2 sensor temperature offset")
				}
			}
			start := co2.StartPeriodicMeasurement
			if opts.LowPowerCO2 {
				start = co2.StartLowPowerPeriodicMeasurement
			}
			if err := start(); err != nil {
				log.WithError(err).Warn("failed to start CO2 measurement")
			}
		}
	}

	if !opts.DisableBarometer {
		baro, err := bmp280.NewI2C(b, bmp280.DefaultAddress, opts.Barometer)
		var idErr *bmp280.ChipIDError
		switch {
		case err == nil:
			m.baro = baro
		case stderrors.As(err, &idErr):
			// Wrong or counterfeit chip. Keep polling it anyway; the values
			// may be garbage but the rest of the monitor is unaffected.
			log.WithError(err).Error("barometer failed identification, continuing degraded")
			m.baro = baro
		default:
			log.WithError(err).Warn("barometer unavailable")
		}
	}

	if m.pm == nil && m.co2 == nil && m.baro == nil {
		return nil, errors.New("monitor: no sensors available")
	}

	if m.pm != nil {
		m.sched.Add("particulates", interval(opts.ParticulateInterval, DefaultParticulateInterval), m.readParticulates)
	}
	if m.baro != nil {
		m.sched.Add("barometer", interval(opts.BarometerInterval, DefaultBarometerInterval), m.readBarometer)
	}
	if m.co2 != nil {
		m.sched.Add("co2", interval(opts.CO2Interval, DefaultCO2Interval), m.readCO2)
	}
	return m, nil
}

func interval(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

// Schedule registers an additional callback on the monitor's scheduler,
// e.g. a metrics publisher consuming the reading store. It runs on the
// same single tick loop as the device reads.
func (m *Monitor) Schedule(name string, every time.Duration, callback func()) {
	m.sched.Add(name, every, callback)
}

// Snapshot returns a copy of the current reading store.
func (m *Monitor) Snapshot() Readings {
	return m.readings
}

// Run drives the scheduler until ctx ends, then quiesces the devices. The
// tick period bounds scheduling granularity, not read rates; per-device
// intervals are handled by the scheduler.
func (m *Monitor) Run(ctx context.Context, tick time.Duration) error {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return ctx.Err()
		case <-t.C:
			m.sched.Tick()
		}
	}
}

// Shutdown gives every driver a best-effort chance to put its device into
// a low power state before the process exits.
func (m *Monitor) Shutdown() {
	if m.co2 != nil {
		if err := m.co2.Halt(); err != nil {
			m.log.WithError(err).Warn("failed to stop CO2 measurement")
		}
	}
	if m.baro != nil {
		if err := m.baro.Halt(); err != nil {
			m.log.WithError(err).Warn("failed to sleep barometer")
		}
	}
	if m.pm != nil {
		_ = m.pm.Halt()
	}
	m.log.Info("sensors quiesced")
}

// gone reports and latches a device that exhausted its retry budget.
func (m *Monitor) gone(name string, flagged *bool) bool {
	if *flagged {
		return true
	}
	*flagged = true
	m.log.Errorf("%s marked disconnected, giving up for this run", name)
	return true
}

func (m *Monitor) readParticulates() {
	if m.pm == nil || (!m.pm.Connected() && m.gone("particulate sensor", &m.pmGone)) {
		return
	}
	r := pmsx003.Reading{}
	if err := m.pm.Sense(&r); err != nil {
		// Store keeps the previous values; stale beats absent.
		m.log.WithError(err).Warn("particulate read discarded")
		return
	}
	m.readings.PM1 = float64(r.PM1Std)
	m.readings.PM25 = float64(r.PM25Std)
	m.readings.PM10 = float64(r.PM10Std)
	m.log.WithField("reading", r.String()).Debug("particulates updated")
}

func (m *Monitor) readCO2() {
	if m.co2 == nil || (!m.co2.Connected() && m.gone("CO2 sensor", &m.co2Gone)) {
		return
	}
	e := scd4x.Env{}
	if err := m.co2.Sense(&e); err != nil {
		m.log.WithError(err).Warn("CO2 read discarded")
		return
	}
	m.readings.CO2PPM = float64(e.CO2)
	m.readings.HumidityPct = float64(e.Humidity) / float64(physic.PercentRH)
	m.log.WithField("reading", e.String()).Debug("CO2 updated")
}

func (m *Monitor) readBarometer() {
	if m.baro == nil || (!m.baro.Connected() && m.gone("barometer", &m.baroGone)) {
		return
	}
	e := physic.Env{}
	if err := m.baro.Sense(&e); err != nil {
		m.log.WithError(err).Warn("barometer read discarded")
		return
	}
	m.readings.TemperatureC = e.Temperature.Celsius()
	m.readings.PressureHPa = float64(e.Pressure) / (100.0 * float64(physic.Pascal))
	m.log.WithFields(logrus.Fields{
		"temperature": m.readings.TemperatureC,
		"pressure":    m.readings.PressureHPa,
	}).Debug("barometer updated")
}
