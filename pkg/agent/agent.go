// Package agent wraps the local Consul agent's HTTP control API.
// A Client can report the agent's own advertised address (Self), whether the agent answers at all (Reachable),
// and instruct the agent to join a peer (Join).
package agent

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rflandau/consul-join/internal/misc"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// Control API endpoints.
const (
	EP_SELF string = "/v1/agent/self"
	EP_JOIN string = "/v1/agent/join/{peer}"
)

// CONTENT_TYPE is the media type the agent answers with.
const CONTENT_TYPE string = "application/json"

// DefaultURL is where a Consul agent listens for its HTTP API out of the box.
const DefaultURL string = "http://127.0.0.1:8500"

// DefaultRequestTimeout caps every call against the control API.
const DefaultRequestTimeout time.Duration = 10 * time.Second

// SelfInfo is the slice of /v1/agent/self we care about.
type SelfInfo struct {
	Name    string // node name, informational only
	Address string // advertised member address
}

// selfResp mirrors the shape of the /v1/agent/self response body.
type selfResp struct {
	Member struct {
		Name string `json:"Name"`
		Addr string `json:"Addr"`
	} `json:"Member"`
}

// A Client drives the control API of a single agent.
// Should be constructed via New() and released with Close().
type Client struct {
	log     *zerolog.Logger
	baseURL string
	timeout time.Duration
	rest    *resty.Client
}

// Option sets various options on the client.
// Uses defaults if an option is not set.
type Option func(*Client)

// WithLogger replaces the client's default logger.
// To disable logging, pass a disabled zerolog logger.
func WithLogger(l *zerolog.Logger) Option {
	if l == nil {
		panic("cannot set logger to nil")
	}
	return func(c *Client) {
		c.log = l
	}
}

// WithTimeout overrides DefaultRequestTimeout.
// Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRestLogger routes resty's internal logging through l and enables request tracing.
// Intended for very verbose runs only.
func WithRestLogger(l resty.Logger) Option {
	return func(c *Client) {
		c.rest.SetLogger(l).SetDebug(true)
	}
}

// New returns a Client pointed at the agent living at baseURL (ex: "http://127.0.0.1:8500").
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = misc.TrimURL(baseURL)
	if u, err := url.Parse(baseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrBadAgentURL(baseURL)
	}

	c := &Client{
		baseURL: baseURL,
		timeout: DefaultRequestTimeout,
		rest:    resty.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		}).With().
			Str("sublogger", "agent").
			Timestamp().
			Logger().Level(zerolog.InfoLevel)
		c.log = &l
	}

	c.rest.SetBaseURL(c.baseURL).SetTimeout(c.timeout)

	return c, nil
}

// URL returns the base url of the agent this client drives.
func (c *Client) URL() string {
	return c.baseURL
}

// Close releases the underlying http resources.
func (c *Client) Close() error {
	return c.rest.Close()
}

// Self fetches the agent's own membership information.
// Any failure (transport, status, or a missing address) is reported as ErrAgentUnavailable.
func (c *Client) Self(ctx context.Context) (SelfInfo, error) {
	c.log.Debug().Str("url", c.baseURL+EP_SELF).Msg("requesting agent self")

	var sr selfResp
	res, err := c.rest.R().
		SetContext(ctx).
		SetExpectResponseContentType(CONTENT_TYPE).
		SetResult(&sr).
		Get(EP_SELF)
	if err != nil {
		return SelfInfo{}, fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	} else if res.IsError() {
		return SelfInfo{}, fmt.Errorf("%w: %w", ErrAgentUnavailable,
			ErrBadStatus{Endpoint: EP_SELF, Code: res.StatusCode(), Body: strings.TrimSpace(res.String())})
	}

	addr := strings.TrimSpace(sr.Member.Addr)
	if addr == "" {
		return SelfInfo{}, fmt.Errorf("%w: response carried no member address", ErrAgentUnavailable)
	}
	return SelfInfo{Name: sr.Member.Name, Address: addr}, nil
}

// Reachable reports whether the agent answered /v1/agent/self successfully.
// Never fails; every error is folded into false.
func (c *Client) Reachable(ctx context.Context) bool {
	_, err := c.Self(ctx)
	return err == nil
}

// Join instructs the agent to join the given peer.
// Returns nil on success and an error wrapping ErrJoinAttemptFailed otherwise.
func (c *Client) Join(ctx context.Context, peer string) error {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return fmt.Errorf("%w: %w", ErrJoinAttemptFailed, ErrEmptyPeer)
	}
	c.log.Debug().Str("peer", peer).Msg("requesting join")

	res, err := c.rest.R().
		SetContext(ctx).
		SetPathParam("peer", peer).
		Get(EP_JOIN)
	if err != nil {
		return fmt.Errorf("%w (%s): %w", ErrJoinAttemptFailed, peer, err)
	} else if res.IsError() {
		return fmt.Errorf("%w (%s): %w", ErrJoinAttemptFailed, peer,
			ErrBadStatus{Endpoint: "/v1/agent/join/" + peer, Code: res.StatusCode(), Body: strings.TrimSpace(res.String())})
	}
	return nil
}
