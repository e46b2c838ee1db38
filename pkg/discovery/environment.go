package discovery

import (
	"context"
	"os"
	"time"

	"github.com/rflandau/consul-join/internal/misc"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// Environment is where this node is running.
type Environment uint8

const (
	Local Environment = iota
	Cloud
)

func (e Environment) String() string {
	switch e {
	case Cloud:
		return "cloud"
	case Local:
		return "local"
	}
	return "unknown"
}

// A Detector decides which Environment we are running in.
type Detector interface {
	Detect(ctx context.Context) Environment
}

// Fixed is a Detector that always reports the same environment.
type Fixed Environment

func (f Fixed) Detect(context.Context) Environment { return Environment(f) }

const (
	// DefaultMetadataEndpoint is the link-local address of the EC2 instance metadata service.
	DefaultMetadataEndpoint string = "http://169.254.169.254"
	// DefaultProbeTimeout bounds the metadata reachability probe.
	DefaultProbeTimeout time.Duration = 5 * time.Second
	metadataPath        string        = "/latest/meta-data"
)

// MetadataProbe detects the cloud by whether the instance metadata service answers at all.
// Any http response means Cloud; every error (timeouts included) means Local.
type MetadataProbe struct {
	log      *zerolog.Logger
	endpoint string
	timeout  time.Duration
	rest     *resty.Client
}

// ProbeOption sets various options on the metadata probe.
type ProbeOption func(*MetadataProbe)

// WithProbeLogger replaces the probe's default logger.
func WithProbeLogger(l *zerolog.Logger) ProbeOption {
	return func(p *MetadataProbe) { p.log = l }
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *MetadataProbe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewMetadataProbe returns a probe against the given metadata endpoint (DefaultMetadataEndpoint if empty).
func NewMetadataProbe(endpoint string, opts ...ProbeOption) *MetadataProbe {
	if endpoint = misc.TrimURL(endpoint); endpoint == "" {
		endpoint = DefaultMetadataEndpoint
	}
	p := &MetadataProbe{
		endpoint: endpoint,
		timeout:  DefaultProbeTimeout,
		rest:     resty.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().
			Str("sublogger", "detector").
			Timestamp().
			Logger().Level(zerolog.InfoLevel)
		p.log = &l
	}
	return p
}

// Detect issues a single, time-boxed request to the metadata service. It is never retried.
func (p *MetadataProbe) Detect(ctx context.Context) Environment {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.rest.R().SetContext(ctx).Get(p.endpoint + metadataPath)
	if err != nil {
		p.log.Debug().Err(err).Str("endpoint", p.endpoint).Msg("metadata service unreachable")
		return Local
	}
	p.log.Debug().Int("status", res.StatusCode()).Str("endpoint", p.endpoint).Msg("metadata service answered")
	return Cloud
}

// Close releases the underlying http resources.
func (p *MetadataProbe) Close() error {
	return p.rest.Close()
}
