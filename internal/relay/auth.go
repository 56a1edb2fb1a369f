package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned when a request carries no valid token while auth is enabled.
var ErrUnauthorized = errors.New("unauthorized")

// Claims identify a relay client.
type Claims struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Role           Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Auth issues and verifies HS256 tokens. A nil or secretless Auth accepts everyone.
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Enabled reports whether tokens are required.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// GenerateToken mints a token for userID. Empty conversationID or role leave the token unscoped.
func (a *Auth) GenerateToken(userID, conversationID string, role Role, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := &Claims{
		UserID:         userID,
		ConversationID: conversationID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies tokenStr.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

type identity struct {
	role           Role
	userID         string
	conversationID string
}

// identify resolves who is connecting. With auth enabled the token decides the
// user and must match the requested conversation and role when it is scoped to them.
func (a *Auth) identify(r *http.Request, role Role) (identity, error) {
	q := r.URL.Query()
	id := identity{
		role:           role,
		userID:         q.Get("user_id"),
		conversationID: q.Get("conversation_id"),
	}
	if id.conversationID == "" {
		return identity{}, errors.New("conversation_id is required")
	}
	if !a.Enabled() {
		return id, nil
	}

	tokenStr := q.Get("token")
	if tokenStr == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			if parts := strings.SplitN(header, " ", 2); len(parts) == 2 {
				tokenStr = parts[1]
			}
		}
	}
	if tokenStr == "" {
		return identity{}, ErrUnauthorized
	}

	claims, err := a.ValidateToken(tokenStr)
	if err != nil {
		return identity{}, err
	}
	if claims.ConversationID != "" && claims.ConversationID != id.conversationID {
		return identity{}, fmt.Errorf("%w: token not valid for conversation %q", ErrUnauthorized, id.conversationID)
	}
	if claims.Role != "" && claims.Role != role {
		return identity{}, fmt.Errorf("%w: token not valid for role %q", ErrUnauthorized, role)
	}
	id.userID = claims.UserID
	return id, nil
}
