// Package aws implements collectors for AWS resource types.
package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
)

const (
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 20
)

// Factory builds per-target service clients. Every target gets its own copy
// of the base config carrying the target's region and credentials.
type Factory struct {
	base       aws.Config
	newClients func(aws.Config) *clients
	rps        rate.Limit
	burst      int
	logger     zerolog.Logger

	mu       sync.Mutex
	limiters map[limiterKey]*rate.Limiter
}

type limiterKey struct {
	account string
	region  string
	service string
}

// Option configures a Factory.
type Option func(*Factory)

// WithRateLimit sets the per account, region and service request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(f *Factory) {
		f.rps = rate.Limit(rps)
		f.burst = burst
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// NewFactory loads the shared AWS configuration and creates a factory.
func NewFactory(ctx context.Context, opts ...Option) (*Factory, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(collector.GlobalQueryRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewFactoryFromConfig(cfg, opts...), nil
}

// NewFactoryFromConfig creates a factory from an existing base config.
func NewFactoryFromConfig(cfg aws.Config, opts ...Option) *Factory {
	f := &Factory{
		base:       cfg,
		newClients: newClients,
		rps:        DefaultRequestsPerSecond,
		burst:      DefaultBurst,
		logger:     log.Logger,
		limiters:   make(map[limiterKey]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "aws-collector").Logger()
	return f
}

// config returns the client config for one target. SDK retries are disabled;
// the classifier owns retry decisions.
func (f *Factory) config(t collector.Target) aws.Config {
	cfg := f.base.Copy()
	cfg.Region = t.Region
	cfg.Credentials = aws.NewCredentialsCache(credentials.StaticCredentialsProvider{Value: t.Credentials.AWS()})
	cfg.Retryer = func() aws.Retryer { return aws.NopRetryer{} }
	return cfg
}

func (f *Factory) clients(t collector.Target) *clients {
	return f.newClients(f.config(t))
}

func (f *Factory) limiter(t collector.Target, service string) *rate.Limiter {
	k := limiterKey{account: t.AccountID, region: t.Region, service: service}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[k]
	if !ok {
		l = rate.NewLimiter(f.rps, f.burst)
		f.limiters[k] = l
	}
	return l
}

// waiter returns the function called before every API request of a target.
func (f *Factory) waiter(t collector.Target, service string) waitFunc {
	l := f.limiter(t, service)
	return func(ctx context.Context) error {
		if err := l.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit %s/%s/%s: %w", t.AccountID, t.Region, service, err)
		}
		return nil
	}
}
