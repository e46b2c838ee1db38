package fakeagent_test

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/rflandau/consul-join/internal/fakeagent"
	. "github.com/rflandau/consul-join/internal/testsupport"
	"resty.dev/v3"
)

func serve(t *testing.T, fa *fakeagent.Agent) *resty.Client {
	t.Helper()
	srv := httptest.NewServer(fa.Handler())
	t.Cleanup(srv.Close)
	cli := resty.New().SetBaseURL(srv.URL)
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestSelf(t *testing.T) {
	fa := fakeagent.New("10.0.0.7", fakeagent.FailSelf(1))
	cli := serve(t, fa)

	res, err := cli.R().Get("/v1/agent/self")
	if err != nil {
		t.Fatal(err)
	} else if res.StatusCode() != http.StatusServiceUnavailable {
		t.Fatal("bad status", ExpectedActual(http.StatusServiceUnavailable, res.StatusCode()))
	}

	var body fakeagent.SelfResp
	res, err = cli.R().SetExpectResponseContentType("application/json").SetResult(&body.Body).Get("/v1/agent/self")
	if err != nil {
		t.Fatal(err)
	} else if res.StatusCode() != http.StatusOK {
		t.Fatal("bad status", ExpectedActual(http.StatusOK, res.StatusCode()))
	}
	if body.Body.Member.Addr != "10.0.0.7" {
		t.Error("bad address", ExpectedActual("10.0.0.7", body.Body.Member.Addr))
	}
	if body.Body.Member.Name == "" || body.Body.Member.Name != fa.Name() {
		t.Error("bad node name", ExpectedActual(fa.Name(), body.Body.Member.Name))
	}
	if fa.SelfCalls() != 2 {
		t.Error("bad call count", ExpectedActual(2, fa.SelfCalls()))
	}
}

func TestJoin(t *testing.T) {
	t.Run("everyone", func(t *testing.T) {
		fa := fakeagent.New("10.0.0.7")
		cli := serve(t, fa)
		for _, p := range []string{"10.0.0.1", "10.0.0.2:8301", "10.0.0.1"} {
			if res, err := cli.R().SetPathParam("peer", p).Get("/v1/agent/join/{peer}"); err != nil {
				t.Fatal(err)
			} else if res.StatusCode() != http.StatusOK {
				t.Fatal("bad status", ExpectedActual(http.StatusOK, res.StatusCode()))
			}
		}
		if m := fa.Members(); !slices.Equal(m, []string{"10.0.0.1", "10.0.0.2:8301"}) {
			t.Error("bad members", ExpectedActual([]string{"10.0.0.1", "10.0.0.2:8301"}, m))
		}
	})
	t.Run("scripted", func(t *testing.T) {
		fa := fakeagent.New("10.0.0.7", fakeagent.AllowPeer("10.0.0.2", 1))
		cli := serve(t, fa)
		codes := []int{}
		for _, p := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.2"} {
			res, err := cli.R().SetPathParam("peer", p).Get("/v1/agent/join/{peer}")
			if err != nil {
				t.Fatal(err)
			}
			codes = append(codes, res.StatusCode())
		}
		want := []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK}
		if !slices.Equal(codes, want) {
			t.Error("bad status codes", ExpectedActual(want, codes))
		}
		if calls := fa.JoinCalls(); !slices.Equal(calls, []string{"10.0.0.1", "10.0.0.2", "10.0.0.2"}) {
			t.Error("bad join calls", ExpectedActual([]string{"10.0.0.1", "10.0.0.2", "10.0.0.2"}, calls))
		}
	})
}
