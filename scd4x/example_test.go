//go:build examples
// +build examples

// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scd4x_test

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/gumgumstudio/envmon/scd4x"
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

	dev, err := scd4x.NewI2C(bus, scd4x.SensorAddress)
	if err != nil {
		log.Fatal(err)
	}
	if err := dev.StartPeriodicMeasurement(); err != nil {
		log.Fatal(err)
	}
	defer dev.Halt()

	// The first measurement is available after ~5 seconds.
	time.Sleep(6 * time.Second)
	env := scd4x.Env{}
	if err := dev.Sense(&env); err != nil {
		log.Fatal(err)
	}
	fmt.Println(env.String())
}
