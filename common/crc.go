// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains checksum functions shared by the sensor driver
// packages.
package common

// CRC8 calculates the 8-bit CRC of the byte slice parameter and returns the
// calculated value. Polynomial 0x31, initial value 0xff, MSB first, no
// reflection. This is the checksum used by Sensirion sensors to protect
// each 16-bit word on the wire.
func CRC8(bytes []byte) byte {
	var crc byte = 0xff
	for _, val := range bytes {
		crc ^= val
		for i := 0; i < 8; i++ {
			if (crc & 0x80) == 0 {
				crc <<= 1
			} else {
				crc = (byte)((crc << 1) ^ 0x31)
			}
		}
	}
	return crc
}

// Sum16 returns the arithmetic sum of the byte slice modulo 2^16. Plantower
// particulate sensors append this as a big-endian trailer over the rest of
// the frame.
func Sum16(bytes []byte) uint16 {
	var sum uint16
	for _, val := range bytes {
		sum += uint16(val)
	}
	return sum
}
