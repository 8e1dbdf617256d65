package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any credential that does not map to a user.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier maps a presented credential to a user id.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (int, error)
}

// JWTVerifier validates HMAC signed tokens issued by the identity service.
type JWTVerifier struct {
	secret []byte
	method jwtlib.SigningMethod
}

func NewJWTVerifier(secret, alg string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &JWTVerifier{secret: []byte(secret), method: method}, nil
}

// Verify checks signature and expiry and returns the subject as a user id.
func (v *JWTVerifier) Verify(_ context.Context, token string) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, ErrInvalidToken
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// only the HMAC family
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwtlib.WithValidMethods([]string{v.method.Alg()}))
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, err := userIDFromClaims(claims)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// Issue signs a token for userID. Used by tooling and tests.
func (v *JWTVerifier) Issue(userID int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub": strconv.Itoa(userID),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwtlib.NewWithClaims(v.method, claims).SignedString(v.secret)
}

func userIDFromClaims(claims jwtlib.MapClaims) (int, error) {
	raw, ok := claims["sub"]
	if !ok {
		raw, ok = claims["user_id"]
	}
	if !ok {
		return 0, errors.New("missing subject")
	}
	var id int
	switch value := raw.(type) {
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, err
		}
		id = parsed
	case float64:
		id = int(value)
	default:
		return 0, fmt.Errorf("unsupported subject type %T", raw)
	}
	if id <= 0 {
		return 0, errors.New("subject must be positive")
	}
	return id, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s", alg)
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
