package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rflandau/consul-join/internal/misc"
	"github.com/rs/zerolog"
)

// Defaults for the inventory wait loop.
const (
	DefaultInventoryQueries     int           = 12
	DefaultInventoryPause       time.Duration = 5 * time.Second
	DefaultInventoryPageTimeout time.Duration = 10 * time.Second
)

// Tag is the membership tag identifying instances that are cluster peers.
type Tag struct {
	Key   string
	Value string
}

// DefaultTag matches instances named "consul".
var DefaultTag = Tag{Key: "Name", Value: "consul"}

func (t Tag) String() string {
	return t.Key + "=" + t.Value
}

// ParseTag parses a "key=value" string.
func ParseTag(s string) (Tag, error) {
	k, v, found := strings.Cut(s, "=")
	k, v = strings.TrimSpace(k), strings.TrimSpace(v)
	if !found || k == "" || v == "" {
		return Tag{}, ErrBadTag(s)
	}
	return Tag{Key: k, Value: v}, nil
}

// RegionGetter looks up the region this instance runs in.
// Satisfied by *imds.Client.
type RegionGetter interface {
	GetRegion(ctx context.Context, params *imds.GetRegionInput, optFns ...func(*imds.Options)) (*imds.GetRegionOutput, error)
}

// InventoryFactory builds an inventory client bound to the given region.
type InventoryFactory func(ctx context.Context, region string) (ec2.DescribeInstancesAPIClient, error)

// EC2Inventory returns an InventoryFactory backed by the default AWS credential chain.
// Additional load options (loggers, retryers) are applied before the region is pinned.
func EC2Inventory(loadOpts ...func(*config.LoadOptions) error) InventoryFactory {
	return func(ctx context.Context, region string) (ec2.DescribeInstancesAPIClient, error) {
		opts := append(slices.Clone(loadOpts), config.WithRegion(region))
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return ec2.NewFromConfig(cfg), nil
	}
}

// CloudTagResolver discovers peers by querying EC2 for running instances carrying the membership tag.
type CloudTagResolver struct {
	log        *zerolog.Logger
	region     RegionGetter
	inventory  InventoryFactory
	tag        Tag
	maxQueries int
	pause      time.Duration
	pageTO     time.Duration
	sleep      func(context.Context, time.Duration) error
}

// CloudOption sets various options on the cloud resolver.
type CloudOption func(*CloudTagResolver)

// WithCloudLogger replaces the resolver's default logger.
func WithCloudLogger(l *zerolog.Logger) CloudOption {
	return func(r *CloudTagResolver) { r.log = l }
}

// WithRegionGetter overrides the instance metadata client used to look up the region.
func WithRegionGetter(rg RegionGetter) CloudOption {
	return func(r *CloudTagResolver) { r.region = rg }
}

// WithMetadataEndpoint points the default region lookup at a non-standard metadata endpoint.
func WithMetadataEndpoint(endpoint string) CloudOption {
	return func(r *CloudTagResolver) {
		if endpoint != "" {
			r.region = imds.New(imds.Options{Endpoint: endpoint})
		}
	}
}

// WithInventory overrides how inventory clients are built.
func WithInventory(f InventoryFactory) CloudOption {
	return func(r *CloudTagResolver) { r.inventory = f }
}

// WithTag overrides DefaultTag.
func WithTag(t Tag) CloudOption {
	return func(r *CloudTagResolver) { r.tag = t }
}

// WithInventoryQueries bounds how many times the inventory is queried per Resolve while it reports no matching instances.
// Non-positive values are ignored.
func WithInventoryQueries(n int, pause time.Duration) CloudOption {
	return func(r *CloudTagResolver) {
		if n > 0 {
			r.maxQueries = n
		}
		if pause >= 0 {
			r.pause = pause
		}
	}
}

// WithCloudSleep replaces the function used to wait between inventory queries.
func WithCloudSleep(f func(context.Context, time.Duration) error) CloudOption {
	return func(r *CloudTagResolver) { r.sleep = f }
}

// NewCloudTagResolver returns a resolver using the instance metadata service and EC2 defaults unless overridden.
func NewCloudTagResolver(opts ...CloudOption) *CloudTagResolver {
	r := &CloudTagResolver{
		tag:        DefaultTag,
		maxQueries: DefaultInventoryQueries,
		pause:      DefaultInventoryPause,
		pageTO:     DefaultInventoryPageTimeout,
		sleep:      misc.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.region == nil {
		r.region = imds.New(imds.Options{})
	}
	if r.inventory == nil {
		r.inventory = EC2Inventory()
	}
	if r.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().
			Str("sublogger", "cloud").
			Timestamp().
			Logger().Level(zerolog.InfoLevel)
		r.log = &l
	}
	return r
}

// Resolve returns the private addresses of every running, tagged instance other than ourselves.
// Failures of the metadata or inventory api are logged and produce an empty list.
func (r *CloudTagResolver) Resolve(ctx context.Context, rc ResolutionContext) []string {
	ro, err := r.region.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		r.log.Warn().Err(fmt.Errorf("%w: %w", ErrDiscoverySourceUnreachable, err)).Msg("failed to determine region")
		return nil
	}
	r.log.Debug().Str("region", ro.Region).Msg("getting peers")

	client, err := r.inventory(ctx, ro.Region)
	if err != nil {
		r.log.Warn().Err(err).Str("region", ro.Region).Msg("failed to build inventory client")
		return nil
	}

	// the inventory is eventually consistent; wait for it to report at least one tagged instance
	for query := 1; ; query++ {
		addrs, matched, err := r.describe(ctx, client)
		if err != nil {
			ev := r.log.Warn().Err(fmt.Errorf("%w: %w", ErrDiscoverySourceUnreachable, err)).Int("query", query)
			var apiErr smithy.APIError
			if errors.As(err, &apiErr) {
				ev = ev.Str("code", apiErr.ErrorCode())
			}
			ev.Msg("inventory query failed")
		} else if matched > 0 {
			peers := excludeSelf(addrs, rc.Self.Address)
			r.log.Debug().Int("instances", matched).Strs("peers", peers).Msg("inventory answered")
			return peers
		} else {
			r.log.Debug().Int("query", query).Str("tag", r.tag.String()).Msg("no tagged instances yet")
		}

		if query >= r.maxQueries {
			r.log.Info().Int("queries", query).Msg("inventory did not converge; giving up for now")
			return nil
		}
		if err := r.sleep(ctx, r.pause); err != nil {
			return nil
		}
	}
}

// describe pages through every running instance carrying the tag.
// Returns the private addresses found and the number of instances matched.
func (r *CloudTagResolver) describe(ctx context.Context, client ec2.DescribeInstancesAPIClient) (addrs []string, matched int, _ error) {
	pager := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + r.tag.Key), Values: []string{r.tag.Value}},
			{Name: aws.String("instance-state-name"), Values: []string{string(types.InstanceStateNameRunning)}},
		},
	})
	for pager.HasMorePages() {
		pageCtx, cancel := context.WithTimeout(ctx, r.pageTO)
		page, err := pager.NextPage(pageCtx)
		cancel()
		if err != nil {
			return nil, 0, err
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				matched += 1
				if ip := aws.ToString(inst.PrivateIpAddress); ip != "" {
					addrs = append(addrs, ip)
				}
			}
		}
	}
	return addrs, matched, nil
}
