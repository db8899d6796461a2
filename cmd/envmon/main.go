// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// envmon polls an air quality sensor array on a shared I²C bus and exposes
// the readings as Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/gumgumstudio/envmon/config"
	"github.com/gumgumstudio/envmon/monitor"
)

var (
	configPath = flag.String("config", "", "path to a YAML config file; defaults apply when empty")
	busName    = flag.String("bus", "", "I²C bus name, overriding the config")
	listenAddr = flag.String("listen", "", "metrics listen address, overriding the config")
	altitude   = flag.Float64("altitude", -1, "site altitude in metres, overriding the config")
	debug      = flag.Bool("debug", false, "log at debug level")
)

// Gauges exposed to Prometheus, refreshed from the reading store on the
// monitor's tick loop.
var (
	gaugePM1         = newGauge("air_pm1", "PM1.0 mass concentration (units: µg/m³)")
	gaugePM25        = newGauge("air_pm25", "PM2.5 mass concentration (units: µg/m³)")
	gaugePM10        = newGauge("air_pm10", "PM10 mass concentration (units: µg/m³)")
	gaugeTemperature = newGauge("air_temperature", "Air temperature (units: degrees Celsius)")
	gaugeHumidity    = newGauge("air_humidity", "Relative humidity (units: %)")
	gaugeAtmPressure = newGauge("air_atm_pressure", "Atmospheric pressure (units: hPa)")
	gaugeCo2Level    = newGauge("air_co2_level", "Carbon dioxide level (units: ppm)")
)

func newGauge(name string, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	})
}

func init() {
	prometheus.MustRegister(gaugePM1)
	prometheus.MustRegister(gaugePM25)
	prometheus.MustRegister(gaugePM10)
	prometheus.MustRegister(gaugeTemperature)
	prometheus.MustRegister(gaugeHumidity)
	prometheus.MustRegister(gaugeAtmPressure)
	prometheus.MustRegister(gaugeCo2Level)
	prometheus.MustRegister(prometheus.NewBuildInfoCollector())
}

func publish(r monitor.Readings) {
	gaugePM1.Set(r.PM1)
	gaugePM25.Set(r.PM25)
	gaugePM10.Set(r.PM10)
	gaugeTemperature.Set(r.TemperatureC)
	gaugeHumidity.Set(r.HumidityPct)
	gaugeAtmPressure.Set(r.PressureHPa)
	gaugeCo2Level.Set(r.CO2PPM)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *busName != "" {
		cfg.Bus.Name = *busName
	}
	if *listenAddr != "" {
		cfg.Metrics.Listen = *listenAddr
	}
	if *altitude >= 0 {
		cfg.Site.AltitudeM = *altitude
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, ForceColors: true})
	log.SetOutput(colorable.NewColorableStdout())
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("configuration: %s", err)
	}
	setupLogging(cfg)

	if _, err := host.Init(); err != nil {
		log.Fatalf("failed to initialize host drivers: %s", err)
	}
	bus, err := i2creg.Open(cfg.Bus.Name)
	if err != nil {
		log.Fatalf("failed to open I²C bus: %s", err)
	}
	defer bus.Close()
	log.Infof("polling sensors on %s", bus)

	barOpts, err := cfg.BarometerOpts()
	if err != nil {
		log.Fatalf("configuration: %s", err)
	}
	mon, err := monitor.New(bus, &monitor.Options{
		Log:                  log.StandardLogger(),
		DisableParticulates:  !cfg.Sensors.Particulates.Enabled,
		DisableCO2:           !cfg.Sensors.CO2.Enabled,
		DisableBarometer:     !cfg.Sensors.Barometer.Enabled,
		ParticulateInterval:  seconds(cfg.Sensors.Particulates.IntervalSeconds),
		CO2Interval:          seconds(cfg.Sensors.CO2.IntervalSeconds),
		BarometerInterval:    seconds(cfg.Sensors.Barometer.IntervalSeconds),
		Altitude:             cfg.Site.AltitudeM,
		LowPowerCO2:          cfg.Sensors.CO2.LowPower,
		CO2TemperatureOffset: physic.Temperature(cfg.Sensors.CO2.TemperatureOffsetC * float64(physic.Celsius)),
		Barometer:            barOpts,
	})
	if err != nil {
		log.Fatalf("failed to start the monitor: %s", err)
	}

	if cfg.Metrics.Enabled {
		mon.Schedule("metrics", cfg.PublishInterval(), func() {
			publish(mon.Snapshot())
		})
		go func() {
			http.Handle("/metrics", promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{EnableOpenMetrics: true},
			))
			log.Infof("serving metrics on %s", cfg.Metrics.Listen)
			log.Fatal(http.ListenAndServe(cfg.Metrics.Listen, nil))
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := mon.Run(ctx, cfg.Tick()); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("monitor stopped: %s", err)
		os.Exit(1)
	}
	log.Info("shut down cleanly")
}
