/******************************************************************************
 *
 *  Description :
 *
 *    Stateless session store: the token itself is a signed JWT carrying the
 *    session fields as claims. Nothing to look up, nothing to refresh.
 *
 *****************************************************************************/
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig is the "store" section of the config file for type "jwt".
type JWTConfig struct {
	Secret string `json:"jwt_secret"`
}

type jwtStore struct {
	secret []byte
}

// NewJWT creates a store which validates tokens as HS256-signed JWTs.
func NewJWT(config *JWTConfig) (Sessions, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("%w: missing jwt secret", ErrUnavailable)
	}
	return &jwtStore{secret: []byte(config.Secret)}, nil
}

func (s *jwtStore) Get(ctx context.Context, user, token string) (*Record, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return nil, ErrNotFound
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformed
	}

	rec := &Record{Extra: make(map[string]any)}
	for k, v := range claims {
		switch k {
		case fieldUser:
			rec.User, _ = v.(string)
		case fieldUserID:
			rec.UserID, _ = v.(string)
		case fieldGroup:
			rec.Group, _ = v.(string)
		case fieldName:
			rec.Name, _ = v.(string)
		case fieldAccess:
			if f, ok := v.(float64); ok {
				rec.Access = int(f)
			}
		case "exp", "iat", "nbf", "iss", "sub", "aud", "jti":
			// Registered claims are not session data.
		default:
			rec.Extra[k] = v
		}
	}

	// The token must have been issued to the announcing user.
	if rec.User == "" || rec.User != user {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Touch is a no-op: JWT lifetime is fixed at issue time.
func (s *jwtStore) Touch(ctx context.Context, user, token string, ttl time.Duration) error {
	return nil
}

func (s *jwtStore) Close() error {
	return nil
}
