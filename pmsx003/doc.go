// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pmsx003 controls a Plantower PMS-series particulate matter sensor
// over I²C. The sensor continuously streams fixed 32-byte frames holding
// twelve big-endian 16-bit fields: mass concentrations under standard and
// atmospheric conditions plus six particle counts. Frames are protected by a
// "BM" magic header, a declared payload length and a 16-bit arithmetic
// checksum.
//
// Datasheet: https://www.aqmd.gov/docs/default-source/aq-spec/resources-page/plantower-pms5003-manual_v2-3.pdf
package pmsx003
