// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package monitor ties the sensor drivers together: a cooperative
// tick-driven scheduler multiplexes reads across the devices sharing one
// I²C bus, and each read writes its converted values into a single shared
// Readings record for consumers to snapshot.
//
// Everything runs on one goroutine. Device reads happen synchronously
// inside a tick, one at a time, so bus transactions from different devices
// never interleave and the Readings record has a single writer.
package monitor
