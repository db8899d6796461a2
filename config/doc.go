// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the monitor daemon's YAML configuration and maps it
// onto driver and scheduler settings.
package config
