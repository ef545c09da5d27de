package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CachedToken é o token da transportadora com sua expiração
type CachedToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// validAt reports whether the token is still usable at now, keeping margin before expiry.
func (t CachedToken) validAt(now time.Time, margin time.Duration) bool {
	return t.Value != "" && now.Add(margin).Before(t.ExpiresAt)
}

// TokenStore guarda o token atual; a versão Redis permite que réplicas compartilhem o mesmo token
type TokenStore interface {
	Load(ctx context.Context) (CachedToken, bool, error)
	Save(ctx context.Context, token CachedToken) error
	Clear(ctx context.Context) error
}

// TokenFetcher autentica no provedor e devolve um token novo
type TokenFetcher func(ctx context.Context) (string, error)

// TokenCache entrega um token válido, renovando quando expirado
type TokenCache struct {
	store  TokenStore
	fetch  TokenFetcher
	ttl    time.Duration
	margin time.Duration
	group  singleflight.Group
	now    func() time.Time
}

func NewTokenCache(store TokenStore, fetch TokenFetcher, ttl, margin time.Duration) *TokenCache {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	return &TokenCache{
		store:  store,
		fetch:  fetch,
		ttl:    ttl,
		margin: margin,
		now:    time.Now,
	}
}

// GetValidToken devolve o token em cache ou faz login; renovações concorrentes viram uma só
func (c *TokenCache) GetValidToken(ctx context.Context) (string, error) {
	cached, ok, err := c.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load courier token: %w", err)
	}
	if ok && cached.validAt(c.now(), c.margin) {
		return cached.Value, nil
	}

	v, err, _ := c.group.Do("token", func() (any, error) {
		// outra goroutine pode ter renovado enquanto esperávamos
		if cached, ok, err := c.store.Load(ctx); err == nil && ok && cached.validAt(c.now(), c.margin) {
			return cached.Value, nil
		}

		value, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}
		token := CachedToken{Value: value, ExpiresAt: c.expiry(value)}
		if err := c.store.Save(ctx, token); err != nil {
			return "", fmt.Errorf("failed to store courier token: %w", err)
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate descarta o token rejeitado pelo provedor; um token mais novo é preservado
func (c *TokenCache) Invalidate(ctx context.Context, rejected string) error {
	cached, ok, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok || cached.Value != rejected {
		return nil
	}
	return c.store.Clear(ctx)
}

// expiry usa o claim exp do JWT quando existir, senão o TTL configurado
func (c *TokenCache) expiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return c.now().Add(c.ttl)
}

// MemoryTokenStore mantém o token no processo
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token CachedToken
	set   bool
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load(_ context.Context) (CachedToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.set, nil
}

func (s *MemoryTokenStore) Save(_ context.Context, token CachedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.set = true
	return nil
}

func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = CachedToken{}
	s.set = false
	return nil
}

// RedisTokenStore guarda o token numa chave Redis com TTL igual à expiração
type RedisTokenStore struct {
	client *redis.Client
	key    string
}

func NewRedisTokenStore(client *redis.Client, key string) *RedisTokenStore {
	return &RedisTokenStore{client: client, key: key}
}

func (s *RedisTokenStore) Load(ctx context.Context) (CachedToken, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedToken{}, false, nil
	}
	if err != nil {
		return CachedToken{}, false, err
	}

	var token CachedToken
	if err := json.Unmarshal(raw, &token); err != nil {
		// valor corrompido é tratado como ausente e sobrescrito no próximo login
		return CachedToken{}, false, nil
	}
	return token, true, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, token CachedToken) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key, raw, ttl).Err()
}

func (s *RedisTokenStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
