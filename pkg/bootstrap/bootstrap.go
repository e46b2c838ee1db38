// Package bootstrap drives a freshly started agent into its cluster.
//
// An Orchestrator is a small state machine: wait for the local agent to answer, resolve the peers to join,
// then join one of them. Every phase retries according to its Policy; by default they retry forever.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rflandau/consul-join/internal/misc"
	"github.com/rflandau/consul-join/pkg/agent"
	"github.com/rflandau/consul-join/pkg/discovery"
	"github.com/rs/zerolog"
)

// State is a step of the bootstrap state machine.
type State uint8

const (
	AwaitingAgent State = iota
	ResolvingPeers
	Joining
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingAgent:
		return "awaiting_agent"
	case ResolvingPeers:
		return "resolving_peers"
	case Joining:
		return "joining"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// SelfFetcher reports the local agent's advertised identity.
// Satisfied by *agent.Client.
type SelfFetcher interface {
	Self(ctx context.Context) (agent.SelfInfo, error)
}

// PassJoiner performs one pass over a peer list.
// Satisfied by *ClusterJoiner.
type PassJoiner interface {
	Join(ctx context.Context, peers []string) JoinOutcome
}

// Orchestrator coordinates AwaitingAgent -> ResolvingPeers -> Joining -> Done.
// Should be constructed via New(). A single Orchestrator is good for a single Run.
type Orchestrator struct {
	log     *zerolog.Logger
	probe   SelfFetcher
	joiner  PassJoiner
	metrics *Metrics

	static   []string
	detector discovery.Detector
	cloud    discovery.Resolver
	local    discovery.Resolver

	policy struct {
		agent   Policy
		resolve Policy
		join    Policy
	}
	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	state State
	self  agent.SelfInfo
	peers []string // fixed once resolved
}

// Option sets various options on the orchestrator.
// Uses defaults if an option is not set.
type Option func(*Orchestrator)

// WithLogger replaces the orchestrator's default logger.
// To disable logging, pass a disabled zerolog logger.
func WithLogger(l *zerolog.Logger) Option {
	if l == nil {
		panic("cannot set logger to nil")
	}
	return func(o *Orchestrator) { o.log = l }
}

// WithStaticPeers sets the operator override. A non-empty override bypasses environment detection entirely.
func WithStaticPeers(peers ...string) Option {
	return func(o *Orchestrator) { o.static = slices.Clone(peers) }
}

// WithDetector overrides the environment detector (live metadata probe by default).
func WithDetector(d discovery.Detector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithCloudResolver overrides the resolver used when the detector reports discovery.Cloud.
func WithCloudResolver(r discovery.Resolver) Option {
	return func(o *Orchestrator) { o.cloud = r }
}

// WithLocalResolver overrides the resolver used when the detector reports discovery.Local.
func WithLocalResolver(r discovery.Resolver) Option {
	return func(o *Orchestrator) { o.local = r }
}

// WithAgentPolicy overrides the retry policy of AwaitingAgent.
func WithAgentPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy.agent = p }
}

// WithResolvePolicy overrides the retry policy of ResolvingPeers.
func WithResolvePolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy.resolve = p }
}

// WithJoinPolicy overrides the retry policy of Joining.
func WithJoinPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy.join = p }
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(f func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = f }
}

// WithClock replaces time.Now for elapsed time calculations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records progress into m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New returns an orchestrator that probes and joins through the given collaborators.
func New(probe SelfFetcher, joiner PassJoiner, opts ...Option) (*Orchestrator, error) {
	if probe == nil {
		return nil, errors.New("a SelfFetcher is required")
	} else if joiner == nil {
		return nil, errors.New("a PassJoiner is required")
	}

	o := &Orchestrator{
		probe:  probe,
		joiner: joiner,
		sleep:  misc.Sleep,
		now:    time.Now,
		state:  AwaitingAgent,
	}
	o.policy.agent = Fixed(DefaultAgentPollInterval)
	o.policy.resolve = Fixed(DefaultResolveRetryInterval)
	o.policy.join = Fixed(DefaultJoinBackoff)

	for _, opt := range opts {
		opt(o)
	}

	if o.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().
			Timestamp().
			Logger().Level(zerolog.InfoLevel)
		o.log = &l
	}
	if o.detector == nil {
		o.detector = discovery.NewMetadataProbe(discovery.DefaultMetadataEndpoint, discovery.WithProbeLogger(o.log))
	}
	if o.cloud == nil {
		o.cloud = discovery.NewCloudTagResolver(discovery.WithCloudLogger(o.log))
	}
	if o.local == nil {
		o.local = discovery.SingleHostResolver(discovery.DefaultFallbackPeer)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(prometheus.NewRegistry())
	}

	return o, nil
}

// State returns the current state of the machine.
func (o *Orchestrator) State() State {
	return o.state
}

// Self returns the agent identity fetched during AwaitingAgent (zero until then).
func (o *Orchestrator) Self() agent.SelfInfo {
	return o.self
}

// Peers returns the resolved peer list (nil until ResolvingPeers completes).
func (o *Orchestrator) Peers() []string {
	return slices.Clone(o.peers)
}

// Run drives the machine until Done, a policy gives up (*GaveUpError), or ctx is cancelled.
// On success, the returned outcome names the peer that was joined.
func (o *Orchestrator) Run(ctx context.Context) (JoinOutcome, error) {
	start := o.now()
	defer func() { o.metrics.Duration.Set(o.now().Sub(start).Seconds()) }()
	o.metrics.State.Set(float64(o.state))

	var outcome JoinOutcome
	for {
		var err error
		switch o.state {
		case AwaitingAgent:
			err = o.phase(ctx, o.policy.agent, o.awaitAgent)
		case ResolvingPeers:
			err = o.phase(ctx, o.policy.resolve, o.resolvePeers)
		case Joining:
			err = o.phase(ctx, o.policy.join, func(ctx context.Context) error {
				var err error
				outcome, err = o.joinPeers(ctx)
				return err
			})
		case Done:
			return outcome, nil
		default:
			return Exhausted, fmt.Errorf("cannot run from state %v", o.state)
		}
		if err != nil {
			o.transition(Failed)
			return Exhausted, err
		}
	}
}

// phase retries try per p until it succeeds, the policy gives up, or ctx is done.
// try is responsible for transitioning on success.
func (o *Orchestrator) phase(ctx context.Context, p Policy, try func(context.Context) error) error {
	state, start := o.state, o.now()
	for attempt := 1; ; attempt++ {
		o.metrics.Attempts.WithLabelValues(state.String()).Inc()
		err := try(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		elapsed := o.now().Sub(start)
		d := p(attempt, elapsed, err)
		if !d.Retry {
			return &GaveUpError{State: state, Attempts: attempt, Elapsed: elapsed, Err: err}
		}
		o.log.Info().Err(err).Str("state", state.String()).Int("attempt", attempt).Dur("retry in", d.After).Msg("retrying")
		if err := o.sleep(ctx, d.After); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) awaitAgent(ctx context.Context) error {
	si, err := o.probe.Self(ctx)
	if err != nil {
		return err
	}
	o.self = si
	o.log.Debug().Str("address", si.Address).Str("node", si.Name).Msg("agent is up")
	o.transition(ResolvingPeers)
	return nil
}

func (o *Orchestrator) resolvePeers(ctx context.Context) error {
	r, source := o.selectResolver(ctx)
	peers := r.Resolve(ctx, discovery.ResolutionContext{Self: o.self, StaticOverride: o.static})
	if len(peers) == 0 {
		return fmt.Errorf("%s: %w", source, discovery.ErrDiscoverySourceEmpty)
	}
	o.peers = peers
	o.log.Info().Strs("peers", peers).Str("source", source).Msg("got peers info")
	o.transition(Joining)
	return nil
}

// selectResolver applies the selection policy: override, else cloud, else local.
// The detector is consulted only when no override is set.
func (o *Orchestrator) selectResolver(ctx context.Context) (discovery.Resolver, string) {
	if len(o.static) > 0 {
		return discovery.StaticListResolver{}, "static"
	}
	if o.detector.Detect(ctx) == discovery.Cloud {
		o.log.Info().Msg("running on a cloud instance, querying inventory for peers")
		return o.cloud, "cloud"
	}
	o.log.Info().Msg("not running in the cloud, using the local fallback peer")
	return o.local, "local"
}

func (o *Orchestrator) joinPeers(ctx context.Context) (JoinOutcome, error) {
	if len(o.peers) == 0 { // an empty list is "not resolved yet"
		o.transition(ResolvingPeers)
		return Exhausted, nil
	}
	outcome := o.joiner.Join(ctx, o.peers)
	if !outcome.IsJoined() {
		return outcome, ErrExhausted
	}
	o.transition(Done)
	return outcome, nil
}

func (o *Orchestrator) transition(to State) {
	o.log.Debug().Str("from", o.state.String()).Str("to", to.String()).Msg("state transition")
	o.state = to
	o.metrics.State.Set(float64(to))
}
