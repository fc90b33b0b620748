package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicpro/dictation-sync/internal/model"
)

var (
	// ErrInvalidToken is returned when a credential is malformed, expired or
	// signed by another key.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnsupportedKey is returned for signing keys other than RSA or ECDSA.
	ErrUnsupportedKey = errors.New("unsupported signing key")
)

// Channel operations a credential may grant.
const (
	OpPublish   = "publish"
	OpSubscribe = "subscribe"
	OpPresence  = "presence"
)

// Claims is the JWT payload of a realtime credential.
type Claims struct {
	jwt.RegisteredClaims
	Channel    string              `json:"channel"`
	Kind       model.IdentityKind  `json:"kind"`
	Capability map[string][]string `json:"capability"`
}

// ClientID returns the realtime client ID the credential was issued to.
func (c *Claims) ClientID() string {
	return c.Subject
}

// Allows reports whether the credential grants op on channel.
func (c *Claims) Allows(channel, op string) bool {
	for _, granted := range c.Capability[channel] {
		if granted == op {
			return true
		}
	}
	return false
}

// Issuer signs realtime credentials with RS256 or ES256.
type Issuer struct {
	key    crypto.Signer
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer that signs with key. The verification key is
// derived from key.Public().
func NewIssuer(key crypto.Signer, issuer string, ttl time.Duration) (*Issuer, error) {
	if _, err := signingMethod(key); err != nil {
		return nil, err
	}
	return &Issuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue creates a credential for identity restricted to its channel.
// endpoint is the WebSocket URL advertised to the client and may be empty.
func (i *Issuer) Issue(identity model.Identity, endpoint string) (model.TokenRequest, error) {
	jti, err := generateJTI()
	if err != nil {
		return model.TokenRequest{}, err
	}

	channel := identity.Channel()
	capability := map[string][]string{
		channel: {OpPublish, OpSubscribe, OpPresence},
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   identity.ClientID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Channel:    channel,
		Kind:       identity.Kind,
		Capability: capability,
	}

	token, err := i.sign(claims)
	if err != nil {
		return model.TokenRequest{}, err
	}

	return model.TokenRequest{
		ClientID:   identity.ClientID,
		Channel:    channel,
		Capability: capability,
		Token:      token,
		Endpoint:   endpoint,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
	}, nil
}

// Verify parses and validates a credential (signature, exp, iss).
func (i *Issuer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return i.key.Public(), nil
		}
		return nil, ErrInvalidToken
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" || claims.Channel == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	method, err := signingMethod(i.key)
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(method, claims).SignedString(i.key)
}

func signingMethod(key crypto.Signer) (jwt.SigningMethod, error) {
	switch key.Public().(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		return jwt.SigningMethodES256, nil
	}
	return nil, ErrUnsupportedKey
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
