// Package fakeagent implements a stand-in for the slice of the Consul agent control API that consul-join drives.
// It backs the package tests and the fakeagent development binary.
// Failures can be scripted per endpoint so retry behaviour can be exercised without a real cluster.
package fakeagent

import (
	"context"
	"net/http"
	"slices"
	"sync"

	"github.com/Pallinder/go-randomdata"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"
)

const (
	_API_NAME    string = "Fake Consul Agent"
	_API_VERSION string = "0.1.0"
)

// SelfResp is the response for GET /v1/agent/self.
type SelfResp struct {
	Body struct {
		Member struct {
			Name string `json:"Name" example:"consul-a" doc:"node name of the agent"`
			Addr string `json:"Addr" example:"10.0.0.7" doc:"address the agent advertises to its peers"`
		} `json:"Member"`
	}
}

// JoinReq is the request for GET /v1/agent/join/{peer}.
type JoinReq struct {
	Peer string `path:"peer" example:"10.0.0.2" doc:"address of the peer to join"`
}

// JoinResp is the (bodiless) response for a successful join.
type JoinResp struct{}

// Agent is a scriptable fake of the control API.
// mu must be held for all operations on the scripted state.
type Agent struct {
	log  *zerolog.Logger
	name string
	addr string

	mu           sync.Mutex
	selfFailures int            // number of upcoming self requests that will fail
	allowed      map[string]int // peer -> remaining failures before a join succeeds; nil allows every peer
	selfCalls    int
	joinCalls    []string
	members      []string

	mux *http.ServeMux
	api huma.API
}

// Option scripts the fake agent's behaviour.
type Option func(*Agent)

// WithLogger replaces the default (disabled) logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// WithName overrides the randomly generated node name.
func WithName(name string) Option {
	return func(a *Agent) { a.name = name }
}

// FailSelf causes the next n self requests to answer 503.
func FailSelf(n int) Option {
	return func(a *Agent) { a.selfFailures = n }
}

// AllowPeer marks peer as joinable after failing the given number of times first.
// Once any peer is allowed, joins against unlisted peers fail.
func AllowPeer(peer string, failuresFirst int) Option {
	return func(a *Agent) {
		if a.allowed == nil {
			a.allowed = make(map[string]int)
		}
		a.allowed[peer] = failuresFirst
	}
}

// DenyAll causes every join to fail.
func DenyAll() Option {
	return func(a *Agent) {
		a.allowed = make(map[string]int)
	}
}

// New returns a fake agent that advertises addr.
func New(addr string, opts ...Option) *Agent {
	a := &Agent{
		name: randomdata.SillyName(),
		addr: addr,
		mux:  http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		l := zerolog.Nop()
		a.log = &l
	}

	a.api = humago.New(a.mux, huma.DefaultConfig(_API_NAME, _API_VERSION))
	a.buildEndpoints()

	return a
}

func (a *Agent) buildEndpoints() {
	huma.Register(a.api, huma.Operation{
		OperationID: "agent-self",
		Method:      http.MethodGet,
		Path:        "/v1/agent/self",
		Summary:     "Membership information about the agent",
	}, a.handleSelf)

	huma.Register(a.api, huma.Operation{
		OperationID:   "agent-join",
		Method:        http.MethodGet,
		Path:          "/v1/agent/join/{peer}",
		Summary:       "Instruct the agent to join a peer",
		DefaultStatus: http.StatusOK,
	}, a.handleJoin)
}

// Handler returns the http handler serving the control API.
func (a *Agent) Handler() http.Handler {
	return a.mux
}

// Name returns the node name the agent reports.
func (a *Agent) Name() string {
	return a.name
}

func (a *Agent) handleSelf(_ context.Context, _ *struct{}) (*SelfResp, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selfCalls += 1
	if a.selfFailures > 0 {
		a.selfFailures -= 1
		a.log.Debug().Int("remaining failures", a.selfFailures).Msg("failing self request")
		return nil, huma.Error503ServiceUnavailable("agent is still starting")
	}

	resp := &SelfResp{}
	resp.Body.Member.Name = a.name
	resp.Body.Member.Addr = a.addr
	return resp, nil
}

func (a *Agent) handleJoin(_ context.Context, req *JoinReq) (*JoinResp, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joinCalls = append(a.joinCalls, req.Peer)

	if a.allowed != nil {
		remaining, ok := a.allowed[req.Peer]
		if !ok {
			a.log.Debug().Str("peer", req.Peer).Msg("refusing join of unknown peer")
			return nil, huma.Error500InternalServerError("failed to join " + req.Peer + ": no route to host")
		}
		if remaining > 0 {
			a.allowed[req.Peer] = remaining - 1
			a.log.Debug().Str("peer", req.Peer).Int("remaining failures", remaining-1).Msg("failing join")
			return nil, huma.Error500InternalServerError("failed to join " + req.Peer + ": i/o timeout")
		}
	}

	if !slices.Contains(a.members, req.Peer) {
		a.members = append(a.members, req.Peer)
	}
	a.log.Info().Str("peer", req.Peer).Msg("joined")
	return &JoinResp{}, nil
}

// SelfCalls returns the number of self requests served so far.
func (a *Agent) SelfCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selfCalls
}

// JoinCalls returns each peer a join was requested for, in request order.
func (a *Agent) JoinCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.joinCalls)
}

// Members returns the peers successfully joined.
func (a *Agent) Members() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.members)
}
