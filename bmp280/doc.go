// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// This package provides a driver for the Bosch BMP280 barometric pressure
// and temperature sensor.
//
// The device exposes a register file over I²C: a chip-ID register, a 24-byte
// factory calibration block, ctrl_meas/config registers holding the
// oversampling, filter, standby and power mode settings, and 20-bit raw
// temperature and pressure readings. Raw readings are converted with the
// floating point compensation formulas from Bosch's reference driver.
//
// Datasheet: https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bmp280-ds001.pdf
package bmp280
