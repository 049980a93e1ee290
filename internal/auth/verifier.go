// Package auth verifies bearer tokens and extracts the calling user and business.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"fieldroute/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpired      = errors.New("token expired")
)

// Verifier validates bearer tokens.
// Supports modes: dev (no verify), hmac (HS256), jwks (RS256 from JWKS URL).
type Verifier struct {
	Mode          string
	HMACSecret    []byte
	JWKSURL       string
	UserClaim     string
	BusinessClaim string
	Leeway        time.Duration

	now func() time.Time

	// jwks mode: the key set is fetched on first use and refreshed in the
	// background until Close. A kid missing from the cached set triggers a
	// rate-limited refetch.
	mu     sync.Mutex
	keys   keyfunc.Keyfunc
	ctx    context.Context
	cancel context.CancelFunc
}

// Principal is the authenticated caller. BusinessID is empty when the token
// carries no business claim; callers resolve it from the user's profile.
type Principal struct {
	UserID     string
	BusinessID string
}

func NewVerifier(c config.Auth) *Verifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Verifier{
		Mode:          c.Mode,
		HMACSecret:    []byte(c.HMACSecret),
		JWKSURL:       c.JWKSURL,
		UserClaim:     c.UserClaim,
		BusinessClaim: c.BusinessClaim,
		Leeway:        30 * time.Second,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Close stops the background JWKS refresh.
func (v *Verifier) Close() { v.cancel() }

func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}

	var (
		keyFunc jwt.Keyfunc
		method  string
	)
	switch v.Mode {
	case "dev":
		// token format: user[:business]
		user, business, _ := strings.Cut(token, ":")
		if user == "" {
			return Principal{}, fmt.Errorf("%w: expected user[:business]", ErrInvalidToken)
		}
		return Principal{UserID: user, BusinessID: business}, nil
	case "hmac":
		method = jwt.SigningMethodHS256.Alg()
		keyFunc = func(*jwt.Token) (any, error) { return v.HMACSecret, nil }
	case "jwks":
		kf, err := v.jwks()
		if err != nil {
			return Principal{}, err
		}
		method = jwt.SigningMethodRS256.Alg()
		keyFunc = kf.KeyfuncCtx(ctx)
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, keyFunc,
		jwt.WithValidMethods([]string{method}),
		jwt.WithLeeway(v.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Principal{}, ErrExpired
	case err != nil:
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, _ := claims[v.UserClaim].(string)
	business, _ := claims[v.BusinessClaim].(string)
	if user == "" {
		return Principal{}, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, v.UserClaim)
	}
	return Principal{UserID: user, BusinessID: business}, nil
}

func (v *Verifier) jwks() (keyfunc.Keyfunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keys != nil {
		return v.keys, nil
	}
	if v.JWKSURL == "" {
		return nil, errors.New("AUTH_JWKS_URL not set")
	}
	kf, err := keyfunc.NewDefaultCtx(v.ctx, []string{v.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("jwks %s: %w", v.JWKSURL, err)
	}
	v.keys = kf
	return kf, nil
}
