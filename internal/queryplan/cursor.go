package queryplan

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rpattn/querygate/internal/domain"
)

// DefaultCursorTTL bounds how long a continuation token stays usable.
const DefaultCursorTTL = time.Hour

// CursorCodec issues and verifies signed, expiring pagination tokens. The
// token encodes only the next offset, so it stays portable across plan
// re-validation and never leaks store-internal identifiers.
type CursorCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCursorCodec builds a codec signing with the given secret. A zero ttl
// falls back to DefaultCursorTTL.
func NewCursorCodec(secret []byte, ttl time.Duration) *CursorCodec {
	if ttl <= 0 {
		ttl = DefaultCursorTTL
	}
	return &CursorCodec{secret: secret, ttl: ttl, now: time.Now}
}

// WithClock overrides the codec clock; used by tests to force expiry.
func (c *CursorCodec) WithClock(now func() time.Time) *CursorCodec {
	c.now = now
	return c
}

// Encode signs a continuation token for the given offset.
func (c *CursorCodec) Encode(offset int) (string, error) {
	if offset < 0 {
		offset = 0
	}
	issued := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"off": offset,
		"iat": issued.Unix(),
		"exp": issued.Add(c.ttl).Unix(),
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign cursor: %w", err)
	}
	return signed, nil
}

// Decode verifies a token and returns the offset it carries. An expired,
// tampered or otherwise unparsable token fails with
// domain.ErrExpiredOrInvalidCursor; it is never silently treated as offset 0.
func (c *CursorCodec) Decode(token string) (int, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExpiredOrInvalidCursor, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected claims", domain.ErrExpiredOrInvalidCursor)
	}
	raw, ok := claims["off"].(float64)
	if !ok || raw < 0 {
		return 0, fmt.Errorf("%w: missing offset claim", domain.ErrExpiredOrInvalidCursor)
	}
	return int(raw), nil
}
