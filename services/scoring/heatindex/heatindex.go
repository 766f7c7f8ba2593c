// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package heatindex computes the NOAA/NWS heat index (apparent temperature).
//
// # Description
//
// The heat index combines air temperature and relative humidity into a
// single apparent temperature. The implementation follows the Rothfusz
// regression used by the National Weather Service, including the low- and
// high-humidity corrections. Below 80 °F the regression is not defined and
// the air temperature is returned unchanged.
//
// All functions here are pure; the package holds no state.
package heatindex

import "math"

// Rothfusz regression coefficients (°F, %RH).
const (
	c1 = -42.379
	c2 = 2.04901523
	c3 = 10.14333127
	c4 = -0.22475541
	c5 = -0.00683783
	c6 = -0.05481717
	c7 = 0.00122874
	c8 = 0.00085282
	c9 = -0.00000199
)

// regressionFloor is the temperature below which the regression does not
// apply and the heat index equals the air temperature.
const regressionFloor = 80.0

// Compute returns the heat index in °F for an air temperature in °F and a
// relative humidity in percent.
//
// # Description
//
// For tempF < 80 the air temperature is returned unchanged. Otherwise the
// nine-coefficient Rothfusz polynomial is evaluated, followed by the NWS
// corrections:
//
//   - RH < 13 and 80 ≤ T ≤ 112: subtract ((13−RH)/4)·√((17−|T−95|)/17)
//   - RH > 85 and 80 ≤ T ≤ 87:  add ((RH−85)/10)·((87−T)/5)
//
// # Inputs
//
//   - tempF: Air temperature in °F.
//   - humidityPct: Relative humidity in percent, expected 0–100.
//
// # Outputs
//
//   - float64: Heat index in °F.
func Compute(tempF, humidityPct float64) float64 {
	if tempF < regressionFloor {
		return tempF
	}

	t := tempF
	r := humidityPct
	hi := c1 +
		c2*t + c3*r +
		c4*t*r +
		c5*t*t + c6*r*r +
		c7*t*t*r + c8*t*r*r +
		c9*t*t*r*r

	// Low-humidity correction.
	if r < 13 && t >= 80 && t <= 112 {
		hi -= ((13 - r) / 4) * math.Sqrt((17-math.Abs(t-95))/17)
	}

	// High-humidity correction.
	if r > 85 && t >= 80 && t <= 87 {
		hi += ((r - 85) / 10) * ((87 - t) / 5)
	}

	return hi
}

// ComputeFromCelsius returns the heat index in °F for a temperature in °C.
func ComputeFromCelsius(tempC, humidityPct float64) float64 {
	return Compute(CelsiusToFahrenheit(tempC), humidityPct)
}

// CelsiusToFahrenheit converts °C to °F.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

// FahrenheitToCelsius converts °F to °C.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}
