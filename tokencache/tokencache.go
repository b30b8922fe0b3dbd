// Package tokencache turns a token fetcher into a splists.TokenFunc that
// reuses the bearer token until shortly before its JWT exp claim.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yasutakesougo/audit-management-system-mvp-sub007/internal/singleflight"
)

// ErrExpired is returned when the fetcher hands out a token that has already
// expired.
var ErrExpired = errors.New("tokencache: fetched token is expired")

// DefaultSkew is how long before exp a cached token is treated as stale.
const DefaultSkew = time.Minute

// Fetcher obtains a new bearer token.
type Fetcher func(ctx context.Context) (string, error)

// Cache holds the current token. Opaque (non-JWT) tokens are reused until a
// forced refresh. It is safe for concurrent use.
type Cache struct {
	fetch Fetcher
	skew  time.Duration
	now   func() time.Time
	group *singleflight.Group[string]

	mu      sync.Mutex
	token   string
	expires time.Time
}

// New wraps fetch. A non-positive skew uses DefaultSkew.
func New(fetch Fetcher, skew time.Duration) *Cache {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Cache{
		fetch: fetch,
		skew:  skew,
		now:   time.Now,
		group: singleflight.New[string](),
	}
}

// Token has the splists.TokenFunc signature.
func (c *Cache) Token(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
	}
	tok, err, _ := c.group.Do(ctx, "fetch", func() (string, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	return tok, err
}

// Invalidate drops the cached token.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", false
	}
	if !c.expires.IsZero() && !c.now().Add(c.skew).Before(c.expires) {
		return "", false
	}
	return c.token, true
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	tok, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	tok = strings.TrimSpace(tok)

	exp, ok := Expiry(tok)
	if ok && !c.now().Before(exp) {
		return "", fmt.Errorf("%w (exp %s)", ErrExpired, exp.Format(time.RFC3339))
	}

	c.mu.Lock()
	c.token = tok
	c.expires = exp
	c.mu.Unlock()
	return tok, nil
}

// Expiry reads the exp claim of a JWT without verifying its signature. ok is
// false for opaque tokens and tokens without exp.
func Expiry(token string) (exp time.Time, ok bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	nd, err := claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}
