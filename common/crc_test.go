// Copyright 2025 The Envmon Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import "testing"

func TestCRC8(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result byte
	}{
		{bytes: []byte{0x00, 0x00}, result: 0x81},
		{bytes: []byte{0xbe, 0xef}, result: 0x92},
		{bytes: []byte{0x01, 0xa4}, result: 0x4d},
		{bytes: []byte{0xab, 0xcd}, result: 0x6f},
	}
	for _, test := range tests {
		res := CRC8(test.bytes)
		if res != test.result {
			t.Errorf("CRC8(%#v)!=0x%x received 0x%x", test.bytes, test.result, res)
		}
	}
}

// Any 2-byte payload with its own CRC8 appended must verify to 0.
func TestCRC8RoundTrip(t *testing.T) {
	for word := 0; word <= 0xffff; word += 0x111 {
		payload := []byte{byte(word >> 8), byte(word & 0xff)}
		full := append(payload, CRC8(payload))
		if CRC8(full) != 0 {
			t.Errorf("CRC8 round trip failed for word 0x%04x", word)
		}
	}
}

func TestSum16(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result uint16
	}{
		{bytes: []byte{}, result: 0},
		{bytes: []byte{0x42, 0x4d}, result: 0x8f},
		{bytes: []byte{0xff, 0xff, 0xff}, result: 0x02fd},
	}
	for _, test := range tests {
		res := Sum16(test.bytes)
		if res != test.result {
			t.Errorf("Sum16(%#v)!=0x%x received 0x%x", test.bytes, test.result, res)
		}
	}
}
