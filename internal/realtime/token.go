package realtime

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is a time-limited capability grant a client presents to the realtime
// transport. Capability maps channel names to the operations permitted on
// them.
type Token struct {
	Token      string              `json:"token"`
	ClientID   string              `json:"client_id"`
	Capability map[string][]string `json:"capability"`
	ExpiresAt  time.Time           `json:"expires_at"`
	Mock       bool                `json:"mock,omitempty"`
}

// TokenIssuer mints capability tokens scoping a user to its own channels.
type TokenIssuer struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. An empty secret produces mock tokens
// so the surface keeps working in unconfigured environments.
func NewTokenIssuer(secret, algorithm string, ttl time.Duration) *TokenIssuer {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		method = jwt.SigningMethodHS256
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}
}

// capability returns the channels a user may subscribe to.
func capability(userID string) map[string][]string {
	return map[string][]string{
		UserJobListChannel(userID): {"subscribe"},
		ChannelRefreshJobs:         {"subscribe"},
		"execution-*":              {"subscribe"},
	}
}

// Issue mints a capability token for a user. When no secret is configured a
// mock token is returned instead of failing, matching the no-op publisher.
func (i *TokenIssuer) Issue(userID, clientID string) (*Token, error) {
	if clientID == "" {
		clientID = fmt.Sprintf("user-%s", userID)
	}
	caps := capability(userID)
	expires := i.now().Add(i.ttl)

	if len(i.secret) == 0 {
		return &Token{
			Token:      "mock-token",
			ClientID:   clientID,
			Capability: caps,
			ExpiresAt:  expires,
			Mock:       true,
		}, nil
	}

	claims := jwt.MapClaims{
		"sub":        userID,
		"client_id":  clientID,
		"capability": caps,
		"iat":        i.now().Unix(),
		"exp":        expires.Unix(),
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("signing capability token: %w", err)
	}

	return &Token{
		Token:      signed,
		ClientID:   clientID,
		Capability: caps,
		ExpiresAt:  expires,
	}, nil
}
