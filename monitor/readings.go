// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package monitor

import "fmt"

// Readings is the latest value per physical quantity, one mutable record
// shared by all drivers. Each field has a single writer; a consumer may see
// some fields updated and others stale within a tick, which is fine for a
// monitoring display. A failed read leaves its fields at their previous
// values.
type Readings struct {
	// Particulate mass concentrations in µg/m³.
	PM1  float64
	PM25 float64
	PM10 float64
	// Degrees Celsius, from the barometer.
	TemperatureC float64
	// Percent relative humidity, from the CO2 sensor.
	HumidityPct float64
	// Hectopascals.
	PressureHPa float64
	// CO2 concentration in parts per million.
	CO2PPM float64
}

func (r Readings) String() string {
	return fmt.Sprintf(
		"PM1.0 %.0fµg/m³ PM2.5 %.0fµg/m³ PM10 %.0fµg/m³ %.1f°C %.1f%%rH %.1fhPa CO2 %.0fppm",
		r.PM1, r.PM25, r.PM10, r.TemperatureC, r.HumidityPct, r.PressureHPa, r.CO2PPM)
}
