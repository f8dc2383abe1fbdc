package authn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

var ErrUnauthorized = errors.New("unauthorized")

// CredentialStore resolves a sha256 token hash to the identity it was issued to.
// Unknown or revoked hashes return ErrUnauthorized.
type CredentialStore interface {
	LookupTokenHash(ctx context.Context, tokenHash string) (string, error)
}

// StaticCredentials is a fixed hash → identity table, typically from config.
type StaticCredentials map[string]string

func (s StaticCredentials) LookupTokenHash(_ context.Context, tokenHash string) (string, error) {
	if id, ok := s[tokenHash]; ok {
		return id, nil
	}
	return "", ErrUnauthorized
}

// Authenticator checks bearer tokens against its stores in order and caches hits.
type Authenticator struct {
	stores []CredentialStore
	cache  *gocache.Cache
}

func NewAuthenticator(ttl time.Duration, stores ...CredentialStore) *Authenticator {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Authenticator{stores: stores, cache: gocache.New(ttl, 2*ttl)}
}

func (a *Authenticator) AuthenticateBearer(ctx context.Context, authorization string) (string, error) {
	token, ok := ParseBearerToken(authorization)
	if !ok {
		return "", ErrUnauthorized
	}
	tokenHash := HashToken(token)
	if id, found := a.cache.Get(tokenHash); found {
		return id.(string), nil
	}
	for _, st := range a.stores {
		id, err := st.LookupTokenHash(ctx, tokenHash)
		if errors.Is(err, ErrUnauthorized) {
			continue
		}
		if err != nil {
			return "", err
		}
		a.cache.SetDefault(tokenHash, id)
		return id, nil
	}
	return "", ErrUnauthorized
}

// Forget drops a cached token so a revocation takes effect on this
// Authenticator immediately rather than after the cache TTL.
func (a *Authenticator) Forget(tokenHash string) { a.cache.Delete(tokenHash) }

func ParseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
