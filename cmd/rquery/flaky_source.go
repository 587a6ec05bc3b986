package main

import (
	"errors"
	"math/rand"
	"time"
)

// flakySource simulates a slow, occasionally failing remote data source,
// standing in for a backend HTTP service.
type flakySource struct {
	failureRate float64
	rng         *rand.Rand
}

func newFlakySource(failureRate float64) *flakySource {
	return &flakySource{
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *flakySource) fetch() ([]string, error) {
	time.Sleep(20 * time.Millisecond)
	if s.rng.Float64() < s.failureRate {
		return nil, errors.New("simulated upstream failure")
	}
	return []string{"alpha", "beta", "gamma"}, nil
}
