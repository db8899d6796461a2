//go:build examples
// +build examples

// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bmp280_test

import (
	"fmt"
	"log"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/gumgumstudio/envmon/bmp280"
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

	dev, err := bmp280.NewI2C(bus, bmp280.DefaultAddress, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer dev.Halt()

	env := physic.Env{}
	if err := dev.Sense(&env); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s %s\n", env.Temperature, env.Pressure)

	alt, err := dev.Altitude()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("altitude: %.1fm\n", alt)
}
