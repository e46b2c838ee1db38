// Package misc is a placeholder package for internal utilities that are shared across packages, but do not have any shared characteristics.
package misc

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// RandomPort returns a random port number from 1024 - 65535
func RandomPort() uint16 {
	return uint16(1024 + rand.Uint32N((math.MaxUint16 - 1024)))
}

// TrimURL strips whitespace and any trailing slashes from a base url so paths can be appended directly.
func TrimURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// Sleep waits for d or until ctx is done, whichever is first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
