package monitor

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Sample is one sensor measurement.
type Sample struct {
	Temperature float64
	Vibration   float64
}

// SensorSource produces measurements for an asset.
type SensorSource interface {
	Sample(assetID uint64) Sample
}

// SimulatedSensor draws temperature uniformly from [40, 90) at one decimal
// and vibration from [1, 10) at two decimals.
type SimulatedSensor struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedSensor seeds a deterministic source. Equal seeds give equal
// sequences.
func NewSimulatedSensor(seed uint64) *SimulatedSensor {
	return &SimulatedSensor{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SimulatedSensor) Sample(uint64) Sample {
	s.mu.Lock()
	t, v := s.rng.Float64(), s.rng.Float64()
	s.mu.Unlock()
	return Sample{
		Temperature: floorTo(40+t*50, 10),
		Vibration:   floorTo(1+v*9, 100),
	}
}

func floorTo(x, scale float64) float64 {
	return math.Floor(x*scale) / scale
}
