package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
)

const (
	DefaultSafetyMargin       = 5 * time.Minute
	DefaultRoleName           = "awsdash"
	DefaultIssueTimeout       = 30 * time.Second
	DefaultPreloadConcurrency = 8
)

// Stats describes the credential cache.
type Stats struct {
	Total   int   `json:"total"`
	Valid   int   `json:"valid"`
	Expired int   `json:"expired"`
	Issued  int64 `json:"issued"`
	Failed  int64 `json:"failed"`
}

// Coordinator resolves and caches credentials per account. Concurrent
// requests for the same account share one upstream issuance.
type Coordinator struct {
	source       Source
	roleName     string
	margin       time.Duration
	issueTimeout time.Duration
	preloadLimit int
	now          func() time.Time
	logger       zerolog.Logger

	mu     sync.Mutex
	cache  map[string]*Set
	flight singleflight.Group

	issued atomic.Int64
	failed atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRoleName sets the role requested from the source.
func WithRoleName(name string) Option {
	return func(c *Coordinator) { c.roleName = name }
}

// WithSafetyMargin sets how long before expiry a cached set is refreshed.
func WithSafetyMargin(d time.Duration) Option {
	return func(c *Coordinator) { c.margin = d }
}

// WithIssueTimeout bounds a single upstream issuance.
func WithIssueTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.issueTimeout = d }
}

// WithPreloadConcurrency bounds parallel issuances in Preload.
func WithPreloadConcurrency(n int) Option {
	return func(c *Coordinator) { c.preloadLimit = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator backed by source.
func NewCoordinator(source Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:       source,
		roleName:     DefaultRoleName,
		margin:       DefaultSafetyMargin,
		issueTimeout: DefaultIssueTimeout,
		preloadLimit: DefaultPreloadConcurrency,
		now:          time.Now,
		logger:       log.Logger,
		cache:        make(map[string]*Set),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "credentials").Logger()
	return c
}

// Get returns valid credentials for the account. The returned set is a copy
// owned by the caller.
func (c *Coordinator) Get(ctx context.Context, accountID string) (Set, error) {
	if set, ok := c.cached(accountID); ok {
		return set, nil
	}

	ch := c.flight.DoChan(accountID, func() (any, error) {
		return c.issue(ctx, accountID)
	})

	select {
	case <-ctx.Done():
		return Set{}, classifier.Wrap(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Set{}, res.Err
		}
		if res.Shared {
			c.logger.Debug().Str("account", accountID).Msg("joined in-flight credential issuance")
		}
		return res.Val.(Set).Clone(), nil
	}
}

func (c *Coordinator) cached(accountID string) (Set, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.cache[accountID]
	if !ok || set.Expired(c.now(), c.margin) {
		return Set{}, false
	}
	return set.Clone(), true
}

// issue runs inside the singleflight group. It uses a context detached from
// the first caller so that caller's cancellation cannot fail the others.
func (c *Coordinator) issue(ctx context.Context, accountID string) (Set, error) {
	if set, ok := c.cached(accountID); ok {
		return set, nil
	}

	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.issueTimeout)
	defer cancel()

	start := c.now()
	set, err := c.source.Issue(ictx, accountID, c.roleName)
	if err != nil {
		c.failed.Add(1)
		cerr := classifyIssue(err)
		c.logger.Warn().
			Err(err).
			Str("account", accountID).
			Str("role", c.roleName).
			Stringer("category", cerr.Category).
			Msg("credential issuance failed")
		return Set{}, cerr
	}
	c.issued.Add(1)
	set.AccountID = accountID

	c.mu.Lock()
	if prev, ok := c.cache[accountID]; ok {
		prev.Wipe()
	}
	stored := set.Clone()
	c.cache[accountID] = &stored
	c.mu.Unlock()

	c.logger.Debug().
		Str("account", accountID).
		Time("expires_at", set.ExpiresAt).
		Dur("took", c.now().Sub(start)).
		Msg("credentials issued")

	shared := set.Clone()
	set.Wipe()
	return shared, nil
}

// classifyIssue maps broker failures onto the taxonomy. A rejection of the
// account/role pair is PermissionDenied; transport failures without a
// provider error code are NetworkOrDispatch.
func classifyIssue(err error) *classifier.Error {
	if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrNoStaticCredentials) {
		return classifier.WithCategory(err, classifier.PermissionDenied)
	}

	cerr := classifier.Wrap(err)
	switch cerr.Category {
	case classifier.Throttled, classifier.Timeout, classifier.ServiceUnavailable,
		classifier.NetworkOrDispatch, classifier.PermissionDenied:
		return cerr
	case classifier.NotFound:
		return classifier.WithCategory(err, classifier.PermissionDenied)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return classifier.WithCategory(err, classifier.PermissionDenied)
	}
	return classifier.WithCategory(err, classifier.NetworkOrDispatch)
}

// Invalidate drops and wipes the cached set of an account.
func (c *Coordinator) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(accountID)
}

// Retain drops every cached account not in accountIDs.
func (c *Coordinator) Retain(accountIDs []string) int {
	keep := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		keep[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for id := range c.cache {
		if _, ok := keep[id]; !ok {
			c.dropLocked(id)
			dropped++
		}
	}
	return dropped
}

// CleanupExpired removes sets past their safety margin.
func (c *Coordinator) CleanupExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, set := range c.cache {
		if set.Expired(now, c.margin) {
			c.dropLocked(id)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("expired credentials cleaned up")
	}
	return removed
}

func (c *Coordinator) dropLocked(accountID string) {
	if set, ok := c.cache[accountID]; ok {
		set.Wipe()
		delete(c.cache, accountID)
	}
}

// Stats reports cache occupancy and issuance counters.
func (c *Coordinator) Stats() Stats {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Total: len(c.cache), Issued: c.issued.Load(), Failed: c.failed.Load()}
	for _, set := range c.cache {
		if set.Expired(now, c.margin) {
			s.Expired++
		} else {
			s.Valid++
		}
	}
	return s
}

// Preload issues credentials for many accounts in parallel. Failures are
// returned per account and never stop the other issuances.
func (c *Coordinator) Preload(ctx context.Context, accountIDs []string) map[string]error {
	var (
		mu   sync.Mutex
		errs = make(map[string]error)
		g    errgroup.Group
	)
	g.SetLimit(c.preloadLimit)

	for _, id := range accountIDs {
		g.Go(func() error {
			if _, err := c.Get(ctx, id); err != nil {
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info().
		Int("accounts", len(accountIDs)).
		Int("failed", len(errs)).
		Msg("credentials preloaded")
	return errs
}
