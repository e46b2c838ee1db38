package misc_test

import (
	"context"
	"testing"
	"time"

	"github.com/rflandau/consul-join/internal/misc"
	. "github.com/rflandau/consul-join/internal/testsupport"
)

func TestTrimURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://127.0.0.1:8500":     "http://127.0.0.1:8500",
		" http://127.0.0.1:8500// ": "http://127.0.0.1:8500",
		"":                          "",
	} {
		if got := misc.TrimURL(in); got != want {
			t.Errorf("%q: %s", in, ExpectedActual(want, got))
		}
	}
}

func TestSleep(t *testing.T) {
	if err := misc.Sleep(t.Context(), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	start := time.Now()
	if err := misc.Sleep(ctx, time.Hour); err != context.Canceled {
		t.Fatal("expected context.Canceled, got ", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep did not return promptly")
	}
	if err := misc.Sleep(ctx, 0); err != context.Canceled {
		t.Error("zero sleep should still report cancellation, got ", err)
	}
}

func TestRandomPort(t *testing.T) {
	for range 1000 {
		if p := misc.RandomPort(); p < 1024 {
			t.Fatal("port below 1024: ", p)
		}
	}
}
