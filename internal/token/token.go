// Package token decodes the bearer credential stored by the browser.
//
// The front-end never holds the issuer's signing key, so the signature is not verified
// here; the content API verifies it on every call. Decoding only answers two questions:
// who the credential claims to be and whether it has expired.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reporthub.io/internal/auth"
)

var (
	ErrMalformedCredential = errors.New("token: malformed credential")
	ErrExpiredCredential   = errors.New("token: credential expired")
)

// Payload is the application section of the credential.
type Payload struct {
	Username       string         `json:"username"`
	ShowOnboarding bool           `json:"show_onboarding"`
	Extra          map[string]any `json:"-"`
}

// Claims is the structure the issuer signs.
type Claims struct {
	Payload Payload `json:"payload"`
	jwt.RegisteredClaims
}

// Decoded is the inspected credential.
type Decoded struct {
	Raw       string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt int64 // unix seconds
	Payload   Payload
}

var parser = jwt.NewParser()

// Decode parses credential without verifying the signature.
func Decode(credential string) (*Decoded, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrMalformedCredential
	}
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(credential, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: exp missing", ErrMalformedCredential)
	}

	extra := map[string]any{}
	mapClaims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(credential, mapClaims); err == nil {
		if raw, ok := mapClaims["payload"].(map[string]any); ok {
			for k, v := range raw {
				if k == "username" || k == "show_onboarding" {
					continue
				}
				extra[k] = v
			}
		}
	}
	claims.Payload.Extra = extra

	d := &Decoded{
		Raw:       credential,
		Issuer:    claims.Issuer,
		ExpiresAt: claims.ExpiresAt.Unix(),
		Payload:   claims.Payload,
	}
	if claims.IssuedAt != nil {
		d.IssuedAt = claims.IssuedAt.Time
	}
	return d, nil
}

// IsExpired reports whether now is at or past the credential's expiry.
func IsExpired(d *Decoded, now time.Time) bool {
	if d == nil {
		return true
	}
	return now.UnixMilli() >= d.ExpiresAt*1000
}

// Expiry returns the expiry as a time.
func (d *Decoded) Expiry() time.Time {
	return time.Unix(d.ExpiresAt, 0)
}

// User projects the credential onto the current-user record.
func (d *Decoded) User() auth.CurrentUser {
	return auth.CurrentUser{
		Username:       d.Payload.Username,
		ShowOnboarding: d.Payload.ShowOnboarding,
		Issuer:         d.Issuer,
		IssuedAt:       d.IssuedAt,
		ExpiresAt:      d.Expiry(),
	}
}

// Inspect decodes credential and rejects it when expired at now.
func Inspect(credential string, now time.Time) (*Decoded, error) {
	d, err := Decode(credential)
	if err != nil {
		return nil, err
	}
	if IsExpired(d, now) {
		return d, ErrExpiredCredential
	}
	return d, nil
}
