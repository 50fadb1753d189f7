package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Source issues credentials for an account/role pair. The coordinator is the
// only caller.
type Source interface {
	Issue(ctx context.Context, accountID, roleName string) (Set, error)
}

// SSOAPI defines the SSO operations used by SSOSource.
type SSOAPI interface {
	GetRoleCredentials(ctx context.Context, params *sso.GetRoleCredentialsInput, optFns ...func(*sso.Options)) (*sso.GetRoleCredentialsOutput, error)
}

// STSAPI defines the STS operations used by STSSource.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// TokenProvider supplies the SSO access token of the signed-in user.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// SSOSource issues role credentials through IAM Identity Center.
type SSOSource struct {
	client SSOAPI
	tokens TokenProvider
}

// NewSSOSource creates an SSO-backed source.
func NewSSOSource(client SSOAPI, tokens TokenProvider) *SSOSource {
	return &SSOSource{client: client, tokens: tokens}
}

// Issue implements Source.
func (s *SSOSource) Issue(ctx context.Context, accountID, roleName string) (Set, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return Set{}, fmt.Errorf("read sso token: %w", err)
	}

	out, err := s.client.GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
		AccessToken: aws.String(token),
		AccountId:   aws.String(accountID),
		RoleName:    aws.String(roleName),
	})
	if err != nil {
		return Set{}, fmt.Errorf("get role credentials: %w", err)
	}
	if out.RoleCredentials == nil {
		return Set{}, fmt.Errorf("get role credentials: empty response for account %s", accountID)
	}

	rc := out.RoleCredentials
	return Set{
		AccountID:       accountID,
		AccessKeyID:     aws.ToString(rc.AccessKeyId),
		SecretAccessKey: []byte(aws.ToString(rc.SecretAccessKey)),
		SessionToken:    []byte(aws.ToString(rc.SessionToken)),
		ExpiresAt:       time.UnixMilli(rc.Expiration),
	}, nil
}

// STSSource issues credentials by assuming a role in each account.
type STSSource struct {
	client      STSAPI
	arnTemplate string
	externalID  string
	sessionName string
	duration    time.Duration
}

// STSConfig configures an STSSource.
type STSConfig struct {
	// RoleARNTemplate may reference {account} and {role}.
	RoleARNTemplate string
	ExternalID      string
	SessionName     string
	Duration        time.Duration
}

// DefaultRoleARNTemplate is used when no template is configured.
const DefaultRoleARNTemplate = "arn:aws:iam::{account}:role/{role}"

// NewSTSSource creates an AssumeRole-backed source.
func NewSTSSource(client STSAPI, cfg STSConfig) *STSSource {
	if cfg.RoleARNTemplate == "" {
		cfg.RoleARNTemplate = DefaultRoleARNTemplate
	}
	if cfg.SessionName == "" {
		cfg.SessionName = "resource-discovery"
	}
	return &STSSource{
		client:      client,
		arnTemplate: cfg.RoleARNTemplate,
		externalID:  cfg.ExternalID,
		sessionName: cfg.SessionName,
		duration:    cfg.Duration,
	}
}

// RoleARN renders the role ARN for an account.
func (s *STSSource) RoleARN(accountID, roleName string) string {
	return strings.NewReplacer("{account}", accountID, "{role}", roleName).Replace(s.arnTemplate)
}

// Issue implements Source.
func (s *STSSource) Issue(ctx context.Context, accountID, roleName string) (Set, error) {
	in := &sts.AssumeRoleInput{
		RoleArn:         aws.String(s.RoleARN(accountID, roleName)),
		RoleSessionName: aws.String(s.sessionName),
	}
	if s.externalID != "" {
		in.ExternalId = aws.String(s.externalID)
	}
	if s.duration > 0 {
		in.DurationSeconds = aws.Int32(int32(s.duration / time.Second))
	}

	out, err := s.client.AssumeRole(ctx, in)
	if err != nil {
		return Set{}, fmt.Errorf("assume role: %w", err)
	}
	if out.Credentials == nil {
		return Set{}, fmt.Errorf("assume role: empty response for account %s", accountID)
	}

	c := out.Credentials
	return Set{
		AccountID:       accountID,
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: []byte(aws.ToString(c.SecretAccessKey)),
		SessionToken:    []byte(aws.ToString(c.SessionToken)),
		ExpiresAt:       aws.ToTime(c.Expiration),
	}, nil
}

// StaticSource serves fixed credentials, keyed by account. Used for local
// development against a single set of keys.
type StaticSource struct {
	mu   sync.RWMutex
	sets map[string]Set
}

// NewStaticSource creates a static source.
func NewStaticSource(sets map[string]Set) *StaticSource {
	return &StaticSource{sets: sets}
}

// ErrNoStaticCredentials is returned for accounts without a configured set.
var ErrNoStaticCredentials = errors.New("no static credentials for account")

// Issue implements Source.
func (s *StaticSource) Issue(_ context.Context, accountID, _ string) (Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[accountID]
	if !ok {
		return Set{}, fmt.Errorf("%w %s", ErrNoStaticCredentials, accountID)
	}
	out := set.Clone()
	out.AccountID = accountID
	return out, nil
}

// CachedToken reads an access token from an AWS CLI SSO cache file.
type CachedToken struct {
	Path string
	now  func() time.Time
}

type ssoCacheFile struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   string `json:"expiresAt"`
}

// ErrTokenExpired is returned when the cached SSO token is no longer valid.
var ErrTokenExpired = errors.New("sso access token expired, sign in again")

// AccessToken implements TokenProvider.
func (c CachedToken) AccessToken(_ context.Context) (string, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return "", fmt.Errorf("read sso cache: %w", err)
	}

	var f ssoCacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse sso cache: %w", err)
	}
	if f.AccessToken == "" {
		return "", fmt.Errorf("parse sso cache: no access token in %s", c.Path)
	}

	if f.ExpiresAt != "" {
		exp, err := time.Parse(time.RFC3339, f.ExpiresAt)
		if err != nil {
			return "", fmt.Errorf("parse sso token expiry %q: %w", f.ExpiresAt, err)
		}
		now := time.Now
		if c.now != nil {
			now = c.now
		}
		if !now().Before(exp) {
			return "", ErrTokenExpired
		}
	}
	return f.AccessToken, nil
}
