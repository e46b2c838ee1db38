// Package discovery resolves the list of peers a freshly started agent should join.
//
// Resolvers never fail: a broken or empty discovery source yields an empty list and the caller decides when to ask again.
// Which resolver applies is decided by the caller, typically by consulting a Detector.
package discovery

import (
	"context"
	"slices"

	"github.com/rflandau/consul-join/pkg/agent"
)

// DefaultFallbackPeer is the address of the first node of a local (vagrant) cluster.
const DefaultFallbackPeer string = "192.168.55.11"

// ResolutionContext is the input to every Resolver.
type ResolutionContext struct {
	Self           agent.SelfInfo
	StaticOverride []string // if non-empty, takes precedence over any environment-based discovery
}

// A Resolver produces the peers to join.
// An empty result means "not resolved yet", never "no peers needed".
type Resolver interface {
	Resolve(ctx context.Context, rc ResolutionContext) []string
}

// StaticListResolver returns the operator-supplied override verbatim.
type StaticListResolver struct{}

func (StaticListResolver) Resolve(_ context.Context, rc ResolutionContext) []string {
	return slices.Clone(rc.StaticOverride)
}

// SingleHostResolver always returns its one address.
type SingleHostResolver string

func (s SingleHostResolver) Resolve(context.Context, ResolutionContext) []string {
	if s == "" {
		return nil
	}
	return []string{string(s)}
}

// excludeSelf returns addrs minus self and any duplicates, preserving order.
func excludeSelf(addrs []string, self string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" || a == self || slices.Contains(out, a) {
			continue
		}
		out = append(out, a)
	}
	return out
}
