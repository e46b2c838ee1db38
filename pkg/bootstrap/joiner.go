package bootstrap

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// JoinRequester instructs the local agent to join a single peer.
// Satisfied by *agent.Client.
type JoinRequester interface {
	Join(ctx context.Context, peer string) error
}

// JoinOutcome is the result of one pass over a peer list: Joined(peer) or Exhausted.
type JoinOutcome struct {
	joined bool
	peer   string
}

// Exhausted is the outcome of a pass in which every peer failed.
var Exhausted = JoinOutcome{}

// Joined returns the outcome of a pass that succeeded on peer.
func Joined(peer string) JoinOutcome {
	return JoinOutcome{joined: true, peer: peer}
}

// IsJoined reports whether the pass succeeded.
func (o JoinOutcome) IsJoined() bool { return o.joined }

// Peer returns the peer that was joined, "" if Exhausted.
func (o JoinOutcome) Peer() string { return o.peer }

func (o JoinOutcome) String() string {
	if o.joined {
		return "Joined(" + o.peer + ")"
	}
	return "Exhausted"
}

// ClusterJoiner walks a peer list, asking the agent to join each peer in order until one succeeds.
type ClusterJoiner struct {
	log   *zerolog.Logger
	agent JoinRequester
}

// JoinerOption sets various options on the joiner.
type JoinerOption func(*ClusterJoiner)

// WithJoinerLogger replaces the joiner's default logger.
func WithJoinerLogger(l *zerolog.Logger) JoinerOption {
	return func(j *ClusterJoiner) { j.log = l }
}

// NewClusterJoiner returns a joiner driving the given agent.
func NewClusterJoiner(a JoinRequester, opts ...JoinerOption) *ClusterJoiner {
	j := &ClusterJoiner{agent: a}
	for _, opt := range opts {
		opt(j)
	}
	if j.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().
			Str("sublogger", "joiner").
			Timestamp().
			Logger().Level(zerolog.InfoLevel)
		j.log = &l
	}
	return j
}

// Join performs a single pass over peers.
// Returns Joined on the first success without touching the remaining peers, Exhausted otherwise.
func (j *ClusterJoiner) Join(ctx context.Context, peers []string) JoinOutcome {
	for _, peer := range peers {
		if ctx.Err() != nil {
			break
		}
		if err := j.agent.Join(ctx, peer); err != nil {
			j.log.Debug().Err(err).Str("peer", peer).Msg("failed to join peer")
			continue
		}
		j.log.Info().Str("peer", peer).Msg("successfully joined peer")
		return Joined(peer)
	}
	return Exhausted
}
