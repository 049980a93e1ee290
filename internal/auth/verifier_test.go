package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldroute/internal/config"
)

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func hs256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func rs256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func inAnHour() int64 { return time.Now().Add(time.Hour).Unix() }

func hmacVerifier(t *testing.T, secret string) *Verifier {
	v := NewVerifier(config.Auth{Mode: "hmac", HMACSecret: secret, UserClaim: "sub", BusinessClaim: "business_id"})
	t.Cleanup(v.Close)
	return v
}

// keyServer serves a JWKS holding one RSA key whose kid can be swapped.
type keyServer struct {
	*httptest.Server
	fetches atomic.Int32

	mu  sync.Mutex
	kid string
	key *rsa.PrivateKey
}

func newKeyServer(t *testing.T, kid string, key *rsa.PrivateKey) *keyServer {
	t.Helper()
	ks := &keyServer{kid: kid, key: key}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.fetches.Add(1)
		ks.mu.Lock()
		kid, pub := ks.kid, ks.key.PublicKey
		ks.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA", "kid": kid, "alg": "RS256", "use": "sig",
			"n": b64(pub.N.Bytes()),
			"e": b64(big.NewInt(int64(pub.E)).Bytes()),
		}}})
	}))
	t.Cleanup(ks.Close)
	return ks
}

func (ks *keyServer) rotate(kid string, key *rsa.PrivateKey) {
	ks.mu.Lock()
	ks.kid, ks.key = kid, key
	ks.mu.Unlock()
}

func rsaKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestVerifyDev(t *testing.T) {
	v := NewVerifier(config.Auth{Mode: "dev"})
	defer v.Close()

	p, err := v.Verify(context.Background(), "u1:b1")
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", BusinessID: "b1"}, p)

	p, err = v.Verify(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u2"}, p)

	_, err = v.Verify(context.Background(), ":b1")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = v.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyHMAC(t *testing.T) {
	v := hmacVerifier(t, "s3cret")
	tok := hs256(t, "s3cret", jwt.MapClaims{"sub": "u1", "business_id": "b1", "exp": inAnHour()})

	p, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", BusinessID: "b1"}, p)
}

func TestVerifyHMACRejects(t *testing.T) {
	v := hmacVerifier(t, "s3cret")
	ctx := context.Background()

	_, err := v.Verify(ctx, hs256(t, "other", jwt.MapClaims{"sub": "u1", "exp": inAnHour()}))
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	_, err = v.Verify(ctx, hs256(t, "s3cret", jwt.MapClaims{"business_id": "b1", "exp": inAnHour()}))
	assert.ErrorIs(t, err, ErrInvalidToken, "missing user claim")

	_, err = v.Verify(ctx, hs256(t, "s3cret", jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}))
	assert.ErrorIs(t, err, ErrExpired)

	_, err = v.Verify(ctx, "a.b")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "exp": inAnHour()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(ctx, none)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "u1", "exp": inAnHour()}).
		SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = v.Verify(ctx, hs512)
	assert.ErrorIs(t, err, ErrInvalidToken, "only HS256 is accepted")
}

func TestVerifyRequiresExpiry(t *testing.T) {
	v := hmacVerifier(t, "s3cret")
	_, err := v.Verify(context.Background(), hs256(t, "s3cret", jwt.MapClaims{"sub": "u1", "business_id": "b1"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NotErrorIs(t, err, ErrExpired)
}

func TestVerifyHMACLeeway(t *testing.T) {
	v := hmacVerifier(t, "s3cret")
	now := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return now }

	tok := hs256(t, "s3cret", jwt.MapClaims{"sub": "u1", "exp": now.Add(-10 * time.Second).Unix()})
	_, err := v.Verify(context.Background(), tok)
	assert.NoError(t, err)

	v.now = func() time.Time { return now.Add(time.Minute) }
	_, err = v.Verify(context.Background(), tok)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyJWKS(t *testing.T) {
	key := rsaKey(t)
	ks := newKeyServer(t, "k1", key)

	v := NewVerifier(config.Auth{Mode: "jwks", JWKSURL: ks.URL, UserClaim: "sub", BusinessClaim: "org"})
	defer v.Close()
	tok := rs256(t, key, "k1", jwt.MapClaims{"sub": "u9", "org": "b9", "exp": inAnHour()})

	p, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u9", BusinessID: "b9"}, p)

	// cached
	_, err = v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, int32(1), ks.fetches.Load())

	unknown := rs256(t, rsaKey(t), "k2", jwt.MapClaims{"sub": "u9", "exp": inAnHour()})
	_, err = v.Verify(context.Background(), unknown)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs := hs256(t, "s3cret", jwt.MapClaims{"sub": "u9", "exp": inAnHour()})
	_, err = v.Verify(context.Background(), hs)
	assert.ErrorIs(t, err, ErrInvalidToken, "HS256 is not accepted in jwks mode")
}

func TestVerifyJWKSKeyRotation(t *testing.T) {
	old := rsaKey(t)
	ks := newKeyServer(t, "k1", old)

	v := NewVerifier(config.Auth{Mode: "jwks", JWKSURL: ks.URL, UserClaim: "sub", BusinessClaim: "org"})
	defer v.Close()

	_, err := v.Verify(context.Background(), rs256(t, old, "k1", jwt.MapClaims{"sub": "u1", "exp": inAnHour()}))
	require.NoError(t, err)
	require.Equal(t, int32(1), ks.fetches.Load())

	// the issuer rotates while the cached set is still fresh
	next := rsaKey(t)
	ks.rotate("k2", next)

	p, err := v.Verify(context.Background(), rs256(t, next, "k2", jwt.MapClaims{"sub": "u2", "org": "b2", "exp": inAnHour()}))
	require.NoError(t, err, "unknown kid refetches the key set")
	assert.Equal(t, Principal{UserID: "u2", BusinessID: "b2"}, p)
	assert.Equal(t, int32(2), ks.fetches.Load())
}

func TestVerifyJWKSRequiresURL(t *testing.T) {
	v := NewVerifier(config.Auth{Mode: "jwks", UserClaim: "sub"})
	defer v.Close()
	_, err := v.Verify(context.Background(), "a.b.c")
	assert.Error(t, err)
}
