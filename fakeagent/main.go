/*
Fake agent instance.
Serves the slice of the consul agent http api that consul-join drives, so the bootstrap can be exercised on a laptop.

Companion to the consul-join binary in the repository root:

	go run ./fakeagent --listen 127.0.0.1:8500 --fail-self 3 --peer 192.168.55.11
	go run . -v --agent http://127.0.0.1:8500 --metadata http://127.0.0.1:1
*/
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/rflandau/consul-join/internal/fakeagent"
	"github.com/rflandau/consul-join/internal/logging"
	"github.com/spf13/pflag"
)

func main() {
	var (
		listen    = pflag.String("listen", "127.0.0.1:8500", "address to serve the agent api on")
		advertise = pflag.String("advertise", "192.168.55.12", "member address reported by /v1/agent/self")
		name      = pflag.String("name", "", "node name (random if empty)")
		failSelf  = pflag.Int("fail-self", 0, "number of initial /v1/agent/self requests to fail")
		peers     = pflag.StringArray("peer", nil, "peer that can be joined; every peer is joinable if none are given")
		failJoins = pflag.Int("fail-joins", 0, "number of joins to fail for each --peer before accepting")
		verbosity = pflag.CountP("verbose", "v", "can be specified multiple times for higher levels of verbosity")
	)
	pflag.Parse()

	l := logging.New(os.Stdout, *verbosity+1)
	opts := []fakeagent.Option{fakeagent.WithLogger(&l), fakeagent.FailSelf(*failSelf)}
	if *name != "" {
		opts = append(opts, fakeagent.WithName(*name))
	}
	for _, p := range *peers {
		opts = append(opts, fakeagent.AllowPeer(p, *failJoins))
	}
	fa := fakeagent.New(*advertise, opts...)

	srv := &http.Server{Addr: *listen, Handler: fa.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("failed to serve")
		}
	}()
	l.Info().Str("address", *listen).Str("node", fa.Name()).Msg("listening...")
	fmt.Println("Send a SIGINT to kill the program")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt)
	<-done

	fmt.Println("SIGINT captured. Cleaning up....")
	err := srv.Close()
	l.Info().Strs("members", fa.Members()).AnErr("close error", err).Msg("killed http server")
}
