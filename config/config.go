// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gumgumstudio/envmon/bmp280"
)

// Config is the root configuration for the monitor daemon. Values come
// from defaults, then the YAML file, then ENVMON_* environment overrides.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Bus     BusConfig     `yaml:"bus"`
	Metrics MetricsConfig `yaml:"metrics"`
	Site    SiteConfig    `yaml:"site"`
	Sensors SensorsConfig `yaml:"sensors"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	// One of logrus's level names: panic, fatal, error, warn, info,
	// debug, trace.
	Level string `yaml:"level"`
	// "text" or "json".
	Format string `yaml:"format"`
}

// BusConfig selects the I²C bus the sensors share.
type BusConfig struct {
	// Bus name or number as understood by the host's bus registry, e.g.
	// "1" or "/dev/i2c-1". Empty selects the first available bus.
	Name string `yaml:"name"`
	// Granularity of the scheduler loop in milliseconds.
	TickMs int `yaml:"tick_ms"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// How often the gauges are refreshed from the reading store, in
	// seconds.
	PublishSeconds int `yaml:"publish_seconds"`
}

// SiteConfig describes the measurement site.
type SiteConfig struct {
	// Metres above sea level, used for the CO2 sensor's pressure
	// compensation and for altitude-corrected pressure readings.
	AltitudeM float64 `yaml:"altitude_m"`
}

// SensorsConfig holds one section per sensor.
type SensorsConfig struct {
	Particulates ParticulatesConfig `yaml:"particulates"`
	CO2          CO2Config          `yaml:"co2"`
	Barometer    BarometerConfig    `yaml:"barometer"`
}

// ParticulatesConfig configures the particulate matter sensor.
type ParticulatesConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// CO2Config configures the CO2/humidity sensor.
type CO2Config struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	// Low power acquisition trades a ~30s measurement period for less
	// self heating.
	LowPower bool `yaml:"low_power"`
	// On-sensor temperature offset in degrees Celsius, applied when
	// non-zero.
	TemperatureOffsetC float64 `yaml:"temperature_offset_c"`
}

// BarometerConfig configures the temperature/pressure sensor. The
// oversampling, filter and standby fields take the register settings by
// name: "off", "1x".."16x" for oversampling and filter, "500us", "62.5ms",
// "125ms", "250ms", "500ms", "1s", "10ms", "20ms" for standby.
type BarometerConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	IntervalSeconds         int    `yaml:"interval_seconds"`
	TemperatureOversampling string `yaml:"temperature_oversampling"`
	PressureOversampling    string `yaml:"pressure_oversampling"`
	Filter                  string `yaml:"filter"`
	Standby                 string `yaml:"standby"`
}

// Default returns the configuration used when no file is given: all
// sensors enabled with their usual polling rates, metrics on the standard
// port, info level text logs.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Bus: BusConfig{
			TickMs: 100,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Listen:         ":9672",
			PublishSeconds: 5,
		},
		Sensors: SensorsConfig{
			Particulates: ParticulatesConfig{
				Enabled:         true,
				IntervalSeconds: 5,
			},
			CO2: CO2Config{
				Enabled:         true,
				IntervalSeconds: 10,
			},
			Barometer: BarometerConfig{
				Enabled:              true,
				IntervalSeconds:      1,
				TemperatureOversampling: "2x",
				PressureOversampling:    "16x",
				Filter:               "off",
				Standby:              "500us",
			},
		},
	}
}

// Load reads path, layering the file's values over Default and environment
// overrides over the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies ENVMON_* environment variables, useful for
// container deployments where the config file is baked into an image.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENVMON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ENVMON_BUS"); v != "" {
		cfg.Bus.Name = v
	}
	if v := os.Getenv("ENVMON_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
}

var logLevels = map[string]bool{
	"panic": true, "fatal": true, "error": true, "warn": true,
	"warning": true, "info": true, "debug": true, "trace": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !logLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, "logging.level is not a known level")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, `logging.format must be "text" or "json"`)
	}
	if c.Bus.TickMs <= 0 {
		errs = append(errs, "bus.tick_ms must be positive")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if c.Metrics.PublishSeconds <= 0 {
			errs = append(errs, "metrics.publish_seconds must be positive")
		}
	}
	if c.Site.AltitudeM < 0 {
		errs = append(errs, "site.altitude_m must not be negative")
	}
	if !c.Sensors.Particulates.Enabled && !c.Sensors.CO2.Enabled && !c.Sensors.Barometer.Enabled {
		errs = append(errs, "at least one sensor must be enabled")
	}
	for _, s := range []struct {
		name     string
		enabled  bool
		interval int
	}{
		{"sensors.particulates", c.Sensors.Particulates.Enabled, c.Sensors.Particulates.IntervalSeconds},
		{"sensors.co2", c.Sensors.CO2.Enabled, c.Sensors.CO2.IntervalSeconds},
		{"sensors.barometer", c.Sensors.Barometer.Enabled, c.Sensors.Barometer.IntervalSeconds},
	} {
		if s.enabled && s.interval <= 0 {
			errs = append(errs, s.name+".interval_seconds must be positive")
		}
	}
	if c.Sensors.Barometer.Enabled {
		if _, err := c.BarometerOpts(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}
	return nil
}

// Tick returns the scheduler granularity as a Duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Bus.TickMs) * time.Millisecond
}

// PublishInterval returns the metrics refresh period as a Duration.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.Metrics.PublishSeconds) * time.Second
}

var oversamplings = map[string]bmp280.Oversampling{
	"off": bmp280.OversamplingOff,
	"1x":  bmp280.Oversampling1x,
	"2x":  bmp280.Oversampling2x,
	"4x":  bmp280.Oversampling4x,
	"8x":  bmp280.Oversampling8x,
	"16x": bmp280.Oversampling16x,
}

var filters = map[string]bmp280.Filter{
	"off": bmp280.FilterOff,
	"2x":  bmp280.Filter2x,
	"4x":  bmp280.Filter4x,
	"8x":  bmp280.Filter8x,
	"16x": bmp280.Filter16x,
}

var standbys = map[string]bmp280.Standby{
	"500us":  bmp280.Standby500us,
	"62.5ms": bmp280.Standby62ms,
	"125ms":  bmp280.Standby125ms,
	"250ms":  bmp280.Standby250ms,
	"500ms":  bmp280.Standby500ms,
	"1s":     bmp280.Standby1000ms,
	"10ms":   bmp280.Standby10ms,
	"20ms":   bmp280.Standby20ms,
}

// BarometerOpts maps the barometer section onto driver options.
func (c *Config) BarometerOpts() (*bmp280.Opts, error) {
	b := c.Sensors.Barometer
	opts := bmp280.DefaultOpts
	var ok bool
	if opts.TemperatureOversampling, ok = oversamplings[b.TemperatureOversampling]; !ok {
		return nil, errors.Errorf("sensors.barometer.temperature_oversampling: unknown setting %q", b.TemperatureOversampling)
	}
	if opts.PressureOversampling, ok = oversamplings[b.PressureOversampling]; !ok {
		return nil, errors.Errorf("sensors.barometer.pressure_oversampling: unknown setting %q", b.PressureOversampling)
	}
	if opts.Filter, ok = filters[b.Filter]; !ok {
		return nil, errors.Errorf("sensors.barometer.filter: unknown setting %q", b.Filter)
	}
	if opts.Standby, ok = standbys[b.Standby]; !ok {
		return nil, errors.Errorf("sensors.barometer.standby: unknown setting %q", b.Standby)
	}
	return &opts, nil
}
