// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package envmon is a container for the environmental monitor's sensor
// drivers and polling machinery. The drivers live in their own packages
// (pmsx003, scd4x, bmp280) and the cooperative scheduler and reading
// store live under monitor.
package envmon
