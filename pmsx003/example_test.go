//go:build examples
// +build examples

// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pmsx003_test

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/gumgumstudio/envmon/pmsx003"
)

func Example() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	dev := pmsx003.NewI2C(bus, pmsx003.DefaultAddress)
	r := pmsx003.Reading{}
	if err := dev.Sense(&r); err != nil {
		log.Fatal(err)
	}
	fmt.Println(r.String())
}
