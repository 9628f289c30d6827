// Package sensorsim provides simple numeric sensor simulators for feeding
// test data into downstream systems.
package sensorsim

import (
	"math"
	"math/rand"
	"time"
)

// Temperature model defaults.
const (
	DefaultBaseline   = 22.0 // mean temperature
	DefaultDiurnalAmp = 3.0  // amplitude of the 24h sine term
	DefaultDriftStd   = 0.05 // random walk step std
	DefaultNoiseStd   = 0.1  // independent measurement noise std

	secondsPerDay = 86400
)

// TempSensor simulates a temperature reading as baseline + diurnal sine +
// random walk + white noise.
type TempSensor struct {
	Baseline   float64
	DiurnalAmp float64
	DriftStd   float64
	NoiseStd   float64

	drift float64
	rng   *rand.Rand
}

// NewTempSensor creates a simulator with the default model parameters.
// A nil rng gets a time-seeded source.
func NewTempSensor(rng *rand.Rand) *TempSensor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &TempSensor{
		Baseline:   DefaultBaseline,
		DiurnalAmp: DefaultDiurnalAmp,
		DriftStd:   DefaultDriftStd,
		NoiseStd:   DefaultNoiseStd,
		rng:        rng,
	}
}

// Read returns a noisy temperature for the given time t in seconds. Each call
// advances the random walk.
func (s *TempSensor) Read(t float64) float64 {
	diurnal := s.DiurnalAmp * math.Sin(2*math.Pi*math.Mod(t, secondsPerDay)/secondsPerDay)
	s.drift += s.rng.NormFloat64() * s.DriftStd
	noise := s.rng.NormFloat64() * s.NoiseStd
	return s.Baseline + diurnal + s.drift + noise
}

// DistanceSensor simulates an ultrasonic distance reading oscillating around
// 5 m with a small uniform jitter.
type DistanceSensor struct {
	rng *rand.Rand
}

// NewDistanceSensor creates a distance simulator. A nil rng gets a
// time-seeded source.
func NewDistanceSensor(rng *rand.Rand) *DistanceSensor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &DistanceSensor{rng: rng}
}

// Read returns a distance in meters for the given time t in seconds, rounded
// to 3 decimals.
func (s *DistanceSensor) Read(t float64) float64 {
	return Round3(5 + 2*math.Sin(t) + (s.rng.Float64()*0.2 - 0.1))
}

// Round3 rounds v to 3 decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
