package cli_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rflandau/consul-join/internal/cli"
	"github.com/rflandau/consul-join/internal/fakeagent"
	. "github.com/rflandau/consul-join/internal/testsupport"
	"github.com/rflandau/consul-join/pkg/bootstrap"
)

func TestFlags(t *testing.T) {
	var logs bytes.Buffer
	cmd := cli.Root(&logs, "test")
	cmd.SetArgs([]string{"-vv", "--static", "10.0.0.1", "--static", "10.0.0.2:8301", "--agent", "http://"})
	err := cmd.ExecuteContext(t.Context())
	if err == nil {
		t.Fatal("expected the bad agent url to be rejected")
	}
	if code := cli.ExitCode(err); code != cli.ExitUsage {
		t.Error("bad exit code", ExpectedActual(cli.ExitUsage, code))
	}

	if v, _ := cmd.Flags().GetCount("verbose"); v != 2 {
		t.Error("bad verbosity", ExpectedActual(2, v))
	}
	if s, _ := cmd.Flags().GetStringArray("static"); !slices.Equal(s, []string{"10.0.0.1", "10.0.0.2:8301"}) {
		t.Error("bad static list", ExpectedActual([]string{"10.0.0.1", "10.0.0.2:8301"}, s))
	}

	t.Run("positional arguments", func(t *testing.T) {
		cmd := cli.Root(&logs, "test")
		cmd.SetArgs([]string{"10.0.0.1"})
		if err := cmd.ExecuteContext(t.Context()); err == nil {
			t.Fatal("expected positional arguments to be rejected")
		}
	})
}

func TestValidate(t *testing.T) {
	if err := cli.DefaultConfig().Validate(); err != nil {
		t.Fatal("defaults should be valid: ", err)
	}
	mutations := map[string]func(*cli.Config){
		"blank static":     func(c *cli.Config) { c.Static = []string{"10.0.0.1", " "} },
		"bad metadata":     func(c *cli.Config) { c.MetadataURL = "not a url" },
		"bad tag":          func(c *cli.Config) { c.Tag = "consul" },
		"blank fallback":   func(c *cli.Config) { c.Fallback = "" },
		"negative attempt": func(c *cli.Config) { c.MaxAttempts = -1 },
		"negative dur":     func(c *cli.Config) { c.MaxDuration = -time.Second },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := cli.DefaultConfig()
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, cli.ExitOK},
		{&bootstrap.GaveUpError{State: bootstrap.Joining, Err: bootstrap.ErrExhausted}, cli.ExitGaveUp},
		{fmt.Errorf("wrapped: %w", &bootstrap.GaveUpError{}), cli.ExitGaveUp},
		{context.Canceled, cli.ExitInterrupted},
		{errors.New("boom"), cli.ExitUsage},
	}
	for _, tt := range tests {
		if code := cli.ExitCode(tt.err); code != tt.code {
			t.Errorf("%v: %s", tt.err, ExpectedActual(tt.code, code))
		}
	}
}

func TestRun(t *testing.T) {
	t.Run("static peers", func(t *testing.T) {
		fa := fakeagent.New("10.0.0.5", fakeagent.AllowPeer("10.0.0.2", 0))
		srv := httptest.NewServer(fa.Handler())
		t.Cleanup(srv.Close)
		metrics := filepath.Join(t.TempDir(), "consul_join.prom")

		cfg := cli.DefaultConfig()
		cfg.AgentURL = srv.URL
		cfg.Static = []string{"10.0.0.1", "10.0.0.2"}
		cfg.MetricsTextfile = metrics

		var logs bytes.Buffer
		if err := cli.Run(t.Context(), cfg, &logs); err != nil {
			t.Fatal(err, logs.String())
		}
		if m := fa.Members(); !slices.Equal(m, []string{"10.0.0.2"}) {
			t.Error("bad membership", ExpectedActual([]string{"10.0.0.2"}, m))
		}
		if !strings.Contains(logs.String(), "joined cluster") {
			t.Error("missing completion log: ", logs.String())
		}

		b, err := os.ReadFile(metrics)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(b), `consul_join_attempts_total{state="joining"} 1`) {
			t.Error("metrics textfile lacks the join attempt counter:\n", string(b))
		}
	})
	t.Run("gives up", func(t *testing.T) {
		fa := fakeagent.New("10.0.0.5", fakeagent.DenyAll())
		srv := httptest.NewServer(fa.Handler())
		t.Cleanup(srv.Close)

		cfg := cli.DefaultConfig()
		cfg.AgentURL = srv.URL
		cfg.Static = []string{"10.0.0.1"}
		cfg.MaxAttempts = 1

		err := cli.Run(t.Context(), cfg, &bytes.Buffer{})
		if code := cli.ExitCode(err); code != cli.ExitGaveUp {
			t.Fatal("bad exit code", ExpectedActual(cli.ExitGaveUp, code), err)
		}
		if !errors.Is(err, bootstrap.ErrExhausted) {
			t.Error("expected ErrExhausted to be wrapped, got ", err)
		}
	})
}
