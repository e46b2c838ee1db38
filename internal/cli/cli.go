// Package cli defines the consul-join command: flag binding, validation, and wiring of the bootstrap components.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rflandau/consul-join/internal/logging"
	"github.com/rflandau/consul-join/pkg/agent"
	"github.com/rflandau/consul-join/pkg/bootstrap"
	"github.com/rflandau/consul-join/pkg/discovery"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Exit codes.
const (
	ExitOK          int = 0
	ExitUsage       int = 1 // bad flags or a component could not be built
	ExitGaveUp      int = 2 // a retry ceiling was hit
	ExitInterrupted int = 130
)

// Config holds every flag of the command.
type Config struct {
	Verbosity       int
	Static          []string
	AgentURL        string
	MetadataURL     string
	Tag             string
	Fallback        string
	MaxAttempts     int
	MaxDuration     time.Duration
	MetricsTextfile string
}

// DefaultConfig returns the configuration used when no flags are given.
func DefaultConfig() Config {
	return Config{
		AgentURL:    agent.DefaultURL,
		MetadataURL: discovery.DefaultMetadataEndpoint,
		Tag:         discovery.DefaultTag.String(),
		Fallback:    discovery.DefaultFallbackPeer,
	}
}

// Validate rejects configurations that could never bootstrap.
func (c Config) Validate() error {
	var errs []error
	for _, s := range c.Static {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("--static addresses cannot be empty"))
			break
		}
	}
	if u, err := url.Parse(c.MetadataURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("--metadata %q is not a valid url", c.MetadataURL))
	}
	if _, err := discovery.ParseTag(c.Tag); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Fallback) == "" {
		errs = append(errs, errors.New("--fallback cannot be empty"))
	}
	if c.MaxAttempts < 0 {
		errs = append(errs, errors.New("--max-attempts cannot be negative"))
	}
	if c.MaxDuration < 0 {
		errs = append(errs, errors.New("--max-duration cannot be negative"))
	}
	return errors.Join(errs...)
}

// usageError marks errors that should exit with ExitUsage.
type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

// ExitCode maps the error returned by the command to a process exit code.
func ExitCode(err error) int {
	var gu *bootstrap.GaveUpError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &gu):
		return ExitGaveUp
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	}
	return ExitUsage
}

// Root returns the consul-join command. Logs are written to logOut.
func Root(logOut io.Writer, version string) *cobra.Command {
	cfg := DefaultConfig()
	cmd := &cobra.Command{
		Use:   "consul-join",
		Short: "Connect the local consul agent to the existing members of its cluster",
		Long: "consul-join waits for the local agent to answer, discovers its peers (a static list, " +
			"running EC2 instances carrying the membership tag, or a local fallback address) and asks the agent to join one of them.",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return usageError{err}
			}
			return Run(cmd.Context(), cfg, logOut)
		},
	}
	bindFlags(cmd.Flags(), &cfg)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.CountVarP(&cfg.Verbosity, "verbose", "v", "can be specified multiple times for higher levels of verbosity")
	fs.StringArrayVar(&cfg.Static, "static", nil, "force a static peer list; can be specified multiple times")
	fs.StringVar(&cfg.AgentURL, "agent", cfg.AgentURL, "base url of the local agent's http api")
	fs.StringVar(&cfg.MetadataURL, "metadata", cfg.MetadataURL, "base url of the cloud instance metadata service")
	fs.StringVar(&cfg.Tag, "tag", cfg.Tag, "membership tag (<key>=<value>) identifying peer instances")
	fs.StringVar(&cfg.Fallback, "fallback", cfg.Fallback, "peer to join when not running in the cloud")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", 0, "give up a phase after this many failed attempts (0 retries forever)")
	fs.DurationVar(&cfg.MaxDuration, "max-duration", 0, "give up a phase after this long (0 retries forever)")
	fs.StringVar(&cfg.MetricsTextfile, "metrics-textfile", "", "write bootstrap metrics to this file on exit, in the node_exporter textfile format")
}

// Run wires the components described by cfg and bootstraps the agent.
func Run(ctx context.Context, cfg Config, logOut io.Writer) error {
	root := logging.New(logOut, cfg.Verbosity)
	tag, err := discovery.ParseTag(cfg.Tag)
	if err != nil {
		return usageError{err}
	}

	agentOpts := []agent.Option{agent.WithLogger(logging.Sub(&root, "agent"))}
	var awsOpts []func(*config.LoadOptions) error
	if cfg.Verbosity >= logging.VerboseClients {
		agentOpts = append(agentOpts, agent.WithRestLogger(logging.Resty(logging.Sub(&root, "resty"))))
		awsOpts = append(awsOpts,
			config.WithLogger(logging.Smithy(logging.Sub(&root, "aws"))),
			config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}
	client, err := agent.New(cfg.AgentURL, agentOpts...)
	if err != nil {
		return usageError{err}
	}
	defer client.Close()

	probe := discovery.NewMetadataProbe(cfg.MetadataURL, discovery.WithProbeLogger(logging.Sub(&root, "detector")))
	defer probe.Close()

	reg := prometheus.NewRegistry()
	policyOpts := []bootstrap.PolicyOption{bootstrap.WithMaxAttempts(cfg.MaxAttempts), bootstrap.WithMaxDuration(cfg.MaxDuration)}
	o, err := bootstrap.New(client,
		bootstrap.NewClusterJoiner(client, bootstrap.WithJoinerLogger(logging.Sub(&root, "joiner"))),
		bootstrap.WithLogger(&root),
		bootstrap.WithStaticPeers(cfg.Static...),
		bootstrap.WithDetector(probe),
		bootstrap.WithCloudResolver(discovery.NewCloudTagResolver(
			discovery.WithCloudLogger(logging.Sub(&root, "cloud")),
			discovery.WithMetadataEndpoint(cfg.MetadataURL),
			discovery.WithInventory(discovery.EC2Inventory(awsOpts...)),
			discovery.WithTag(tag),
		)),
		bootstrap.WithLocalResolver(discovery.SingleHostResolver(strings.TrimSpace(cfg.Fallback))),
		bootstrap.WithAgentPolicy(bootstrap.Fixed(bootstrap.DefaultAgentPollInterval, policyOpts...)),
		bootstrap.WithResolvePolicy(bootstrap.Fixed(bootstrap.DefaultResolveRetryInterval, policyOpts...)),
		bootstrap.WithJoinPolicy(bootstrap.Fixed(bootstrap.DefaultJoinBackoff, policyOpts...)),
		bootstrap.WithMetrics(bootstrap.NewMetrics(reg)),
	)
	if err != nil {
		return usageError{err}
	}

	outcome, runErr := o.Run(ctx)
	if cfg.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsTextfile, reg); err != nil {
			root.Warn().Err(err).Str("path", cfg.MetricsTextfile).Msg("failed to write metrics")
		}
	}
	if runErr != nil {
		root.Error().Err(runErr).Str("state", o.State().String()).Msg("bootstrap did not complete")
		return runErr
	}
	root.Info().Str("peer", outcome.Peer()).Str("address", o.Self().Address).Msg("joined cluster")
	return nil
}
