// Package testsupport is an internal-only package that provides utilities for testing uniformity.
package testsupport

import (
	"context"
	"fmt"
	"maps"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/rflandau/consul-join/internal/misc"
	"github.com/rs/zerolog"
)

// ExpectedActual returns a newline-prefixed string comparing the expected result to the actual result.
// Should be used to add clarity to unit test error messages.
func ExpectedActual[T any](expected, actual T) string {
	return fmt.Sprintf("\n\tExpected: '%v'\n\tActual: '%v'", expected, actual)
}

// SlicesUnorderedEqual compares the elements of the given slices for equality and equal count without taking order of the elements into account.
func SlicesUnorderedEqual[T comparable](a []T, b []T) bool {
	am := make(map[T]uint)
	for _, k := range a {
		am[k] += 1
	}
	bm := make(map[T]uint)
	for _, k := range b {
		bm[k] += 1
	}
	return maps.Equal(am, bm)
}

var (
	usedPorts   map[uint16]bool = make(map[uint16]bool)
	usedPortsMu sync.Mutex
)

// RandomLocalhostAddrPort returns a random addrport pointing to a randomly selected port >= 1024 and localhost.
// Maintains a map of ports that it has given out to ensure no duplicates.
// Not a perfect solution, but it is just to support testing so ¯\_(ツ)_/¯
func RandomLocalhostAddrPort() netip.AddrPort {
	usedPortsMu.Lock()
	defer usedPortsMu.Unlock()
	var port uint16
	for {
		port = misc.RandomPort()
		if _, found := usedPorts[port]; !found {
			usedPorts[port] = true
			break
		}
	}

	return netip.MustParseAddrPort("127.0.0.1:" + strconv.FormatUint(uint64(port), 10))
}

// Logger returns a disabled logger so tests can satisfy WithLogger options without spamming output.
func Logger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// Sleeper records every requested wait instead of blocking.
// Safe to hand to anything that accepts a func(context.Context, time.Duration) error.
type Sleeper struct {
	mu     sync.Mutex
	Sleeps []time.Duration
}

// Sleep records d and returns the context's error, if any.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.Sleeps = append(s.Sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Recorded returns a copy of the recorded waits.
func (s *Sleeper) Recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.Sleeps))
	copy(out, s.Sleeps)
	return out
}
