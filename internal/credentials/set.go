// Package credentials coordinates short-lived per-account credentials.
package credentials

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Set is a temporary credential set for one account. Secret material is held
// in byte slices so the coordinator can zero it when the set is retired.
type Set struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey []byte
	SessionToken    []byte
	ExpiresAt       time.Time
}

// Clone returns a copy that shares no memory with s.
func (s Set) Clone() Set {
	c := s
	c.SecretAccessKey = append([]byte(nil), s.SecretAccessKey...)
	c.SessionToken = append([]byte(nil), s.SessionToken...)
	return c
}

// Wipe zeroes the secret material in place.
func (s *Set) Wipe() {
	clear(s.SecretAccessKey)
	clear(s.SessionToken)
	s.SecretAccessKey = nil
	s.SessionToken = nil
	s.AccessKeyID = ""
}

// Expired reports whether the set is unusable at now given a safety margin.
func (s Set) Expired(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt.Add(-margin))
}

// AWS converts the set into SDK credentials.
func (s Set) AWS() aws.Credentials {
	return aws.Credentials{
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: string(s.SecretAccessKey),
		SessionToken:    string(s.SessionToken),
		Source:          "discovery-coordinator",
		CanExpire:       !s.ExpiresAt.IsZero(),
		Expires:         s.ExpiresAt,
		AccountID:       s.AccountID,
	}
}
