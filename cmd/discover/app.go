package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/prometheus"

	"github.com/fibanez/aws-dash-architect-sub001/internal/classifier"
	"github.com/fibanez/aws-dash-architect-sub001/internal/collector"
	awscollector "github.com/fibanez/aws-dash-architect-sub001/internal/collector/aws"
	"github.com/fibanez/aws-dash-architect-sub001/internal/config"
	"github.com/fibanez/aws-dash-architect-sub001/internal/credentials"
	"github.com/fibanez/aws-dash-architect-sub001/internal/emitter"
	"github.com/fibanez/aws-dash-architect-sub001/internal/journal"
	"github.com/fibanez/aws-dash-architect-sub001/internal/normalizer"
	"github.com/fibanez/aws-dash-architect-sub001/internal/orchestrator"
	"github.com/fibanez/aws-dash-architect-sub001/internal/scope"
	"github.com/fibanez/aws-dash-architect-sub001/internal/store"
	"github.com/fibanez/aws-dash-architect-sub001/internal/telemetry"
	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// app holds the wired discovery engine for one CLI invocation.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	registry  *collector.Registry
	coord     *credentials.Coordinator
	store     *store.Store
	tracker   *classifier.Tracker
	orch      *orchestrator.Orchestrator
	telemetry *telemetry.Provider
	journal   journal.Journal
	emitters  *emitter.MultiEmitter
	unsub     func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	a.telemetry, err = telemetry.NewProvider(ctx, cfg.OTEL, telemetry.WithMetricReader(promExporter))
	if err != nil {
		return nil, fmt.Errorf("create telemetry: %w", err)
	}

	base, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Discovery.GlobalRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	a.registry = collector.NewRegistry()
	factory := awscollector.NewFactoryFromConfig(base,
		awscollector.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		awscollector.WithLogger(logger),
	)
	if err := awscollector.Register(a.registry, factory); err != nil {
		return nil, err
	}

	source, err := credentialSource(base, cfg.Credentials)
	if err != nil {
		return nil, err
	}
	a.coord = credentials.NewCoordinator(source,
		credentials.WithRoleName(cfg.Credentials.RoleName),
		credentials.WithSafetyMargin(cfg.Credentials.SafetyMargin),
		credentials.WithIssueTimeout(cfg.Credentials.IssueTimeout),
		credentials.WithPreloadConcurrency(cfg.Credentials.PreloadConcurrency),
		credentials.WithLogger(logger),
	)

	a.store = store.New(
		store.WithStaleAfter(cfg.Discovery.StaleAfter),
		store.WithLogger(logger),
	)

	promEmitter, err := emitter.NewPrometheusEmitter(a.telemetry.Meter())
	if err != nil {
		return nil, fmt.Errorf("create emitter: %w", err)
	}
	a.emitters = emitter.NewMultiEmitter(promEmitter, emitter.NewLogEmitter(&logger, zerolog.DebugLevel))
	a.unsub = a.store.Subscribe(a.emitters)

	a.journal, err = openJournal(cfg.Journal, logger)
	if err != nil {
		return nil, err
	}

	policy, err := cfg.Retry.Policy()
	if err != nil {
		return nil, err
	}
	a.tracker = classifier.NewTracker()

	a.orch = orchestrator.New(orchestrator.Deps{
		Registry:    a.registry,
		Normalizers: normalizer.NewRegistry(),
		Credentials: a.coord,
		Store:       a.store,
		Retrier:     classifier.NewRetrier(policy),
		Tracker:     a.tracker,
		Journal:     a.journal,
		Recorder:    a.telemetry,
		Tracer:      a.telemetry.Tracer(),
		Logger:      &logger,
	}, orchestrator.Config{
		Workers:      cfg.Discovery.Workers,
		GlobalRegion: cfg.Discovery.GlobalRegion,
	})
	ok = true
	return a, nil
}

// loadScope reads the scope file and resolves it against the registry.
func (a *app) loadScope(path string) (resource.Scope, error) {
	if path == "" {
		return resource.Scope{}, errors.New("no scope file: pass --scope or set discovery.scope_file")
	}
	f, err := scope.Load(path)
	if err != nil {
		return resource.Scope{}, err
	}
	return f.Resolve(a.registry.Types())
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Wait()
	}
	if a.unsub != nil {
		a.unsub()
	}
	if a.emitters != nil {
		if err := a.emitters.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close emitters")
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close journal")
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(context.Background()); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown telemetry")
		}
	}
}

func credentialSource(base aws.Config, cfg config.CredentialsConfig) (credentials.Source, error) {
	switch cfg.Source {
	case "sso":
		path := cfg.SSO.TokenCache
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("locate sso cache: %w", err)
			}
			path, err = newestTokenCache(filepath.Join(home, ".aws", "sso", "cache"))
			if err != nil {
				return nil, err
			}
		}
		ssoCfg := base.Copy()
		ssoCfg.Region = cfg.SSO.Region
		return credentials.NewSSOSource(sso.NewFromConfig(ssoCfg), credentials.CachedToken{Path: path}), nil
	case "sts":
		return credentials.NewSTSSource(sts.NewFromConfig(base), credentials.STSConfig{
			RoleARNTemplate: cfg.STS.RoleARNTemplate,
			ExternalID:      cfg.STS.ExternalID,
			SessionName:     cfg.STS.SessionName,
			Duration:        cfg.STS.Duration,
		}), nil
	case "static":
		return staticSource(cfg.Static), nil
	}
	return nil, fmt.Errorf("unknown credential source %q", cfg.Source)
}

// staticSource serves the configured key pair for any account.
func staticSource(cfg config.StaticConfig) credentials.Source {
	set := credentials.Set{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: []byte(cfg.SecretAccessKey),
		SessionToken:    []byte(cfg.SessionToken),
	}
	return sourceFunc(func(_ context.Context, accountID, _ string) (credentials.Set, error) {
		out := set.Clone()
		out.AccountID = accountID
		return out, nil
	})
}

type sourceFunc func(ctx context.Context, accountID, roleName string) (credentials.Set, error)

func (f sourceFunc) Issue(ctx context.Context, accountID, roleName string) (credentials.Set, error) {
	return f(ctx, accountID, roleName)
}

// newestTokenCache returns the most recently written JSON file in dir, which
// is where the AWS CLI keeps the token of the last SSO login.
func newestTokenCache(dir string) (string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return "", fmt.Errorf("list sso cache: %w", err)
	}
	type candidate struct {
		path string
		mod  int64
	}
	var cands []candidate
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{f, info.ModTime().UnixNano()})
	}
	if len(cands) == 0 {
		return "", fmt.Errorf("no sso token in %s, run aws sso login", dir)
	}
	best := slices.MaxFunc(cands, func(a, b candidate) int {
		switch {
		case a.mod < b.mod:
			return -1
		case a.mod > b.mod:
			return 1
		}
		return 0
	})
	return best.path, nil
}

func openJournal(cfg config.JournalConfig, logger zerolog.Logger) (journal.Journal, error) {
	switch cfg.Backend {
	case "":
		return journal.Nop{}, nil
	case "jsonl":
		if removed, err := journal.Cleanup(cfg.Path, cfg.Retention); err != nil {
			logger.Warn().Err(err).Msg("journal cleanup failed")
		} else if removed > 0 {
			logger.Info().Int("removed", removed).Msg("old journal files removed")
		}
		j, err := journal.OpenFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		logger.Debug().Str("path", j.Path()).Msg("journal opened")
		return j, nil
	case "bolt":
		j, err := journal.OpenBolt(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		return j, nil
	}
	return nil, fmt.Errorf("unknown journal backend %q", cfg.Backend)
}
