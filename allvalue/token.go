package allvalue

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	tokenFetchTimeout = 10 * time.Second
	tokenExpiryMargin = time.Minute
	tokenCacheKey     = "order_printer:allvalue:access_token"
)

// TokenSource yields the access token for upstream calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a permanent shop access token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(t))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// OAuthTokenSource fetches client-credentials tokens and caches them in memory and,
// when a Redis client is set, across instances.
type OAuthTokenSource struct {
	cfg    clientcredentials.Config
	redis  *redis.Client
	http   *http.Client
	logger *logrus.Logger

	group singleflight.Group

	mu      sync.Mutex
	current *oauth2.Token
}

func NewOAuthTokenSource(cfg OAuthConfig, rdb *redis.Client, logger *logrus.Logger) *OAuthTokenSource {
	return &OAuthTokenSource{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
		redis:  rdb,
		http:   &http.Client{Timeout: tokenFetchTimeout},
		logger: logger,
	}
}

func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if tokenUsable(s.current) {
		token := s.current.AccessToken
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	// the shared refresh must not die with the caller that happened to start it
	ch := s.group.DoChan("token", func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*tokenFetchTimeout)
		defer cancel()
		return s.refresh(refreshCtx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *OAuthTokenSource) refresh(ctx context.Context) (string, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, tokenCacheKey).Result()
		if err == nil && cached != "" {
			ttl, _ := s.redis.TTL(ctx, tokenCacheKey).Result()
			s.remember(&oauth2.Token{AccessToken: cached, Expiry: time.Now().Add(ttl)})
			return cached, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) && s.logger != nil {
			s.logger.WithError(err).Warn("allvalue token cache read failed")
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, tokenFetchTimeout)
	defer cancel()
	fetchCtx = context.WithValue(fetchCtx, oauth2.HTTPClient, s.http)

	tok, err := s.cfg.Token(fetchCtx)
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", ErrMissingToken
	}
	s.remember(tok)

	if s.redis != nil && !tok.Expiry.IsZero() {
		ttl := time.Until(tok.Expiry) - tokenExpiryMargin
		if ttl > 0 {
			if err := s.redis.Set(ctx, tokenCacheKey, tok.AccessToken, ttl).Err(); err != nil && s.logger != nil {
				s.logger.WithError(err).Warn("allvalue token cache write failed")
			}
		}
	}
	return tok.AccessToken, nil
}

func (s *OAuthTokenSource) remember(tok *oauth2.Token) {
	s.mu.Lock()
	s.current = tok
	s.mu.Unlock()
}

func tokenUsable(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return time.Until(tok.Expiry) > tokenExpiryMargin
}
