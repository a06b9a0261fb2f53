package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bizpilot/convocore/internal/store/redisstore"
)

// TokenSource supplies a bearer token for calls to the remote runtime.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. Dev and test use.
type StaticTokenSource struct {
	Value string
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	_ = ctx
	if s.Value == "" {
		return "", errors.New("runtime: static token is empty")
	}
	return s.Value, nil
}

// ExchangeTokenSource obtains short-lived tokens via client-credentials
// exchange and caches them in redis until shortly before expiry, so every
// service instance shares one token.
type ExchangeTokenSource struct {
	AuthURL      string
	ClientID     string
	ClientSecret string
	Cache        *redisstore.Store
	Client       *http.Client

	// ExpiryMargin is subtracted from the runtime-reported TTL before
	// caching, so a token is never served within this distance of expiry.
	ExpiryMargin time.Duration
}

func NewExchangeTokenSource(authURL, clientID, clientSecret string, cache *redisstore.Store) *ExchangeTokenSource {
	return &ExchangeTokenSource{
		AuthURL:      authURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Cache:        cache,
		Client:       &http.Client{Timeout: 10 * time.Second},
		ExpiryMargin: 30 * time.Second,
	}
}

type tokenReq struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
}

func (s *ExchangeTokenSource) Token(ctx context.Context) (string, error) {
	if s.Cache != nil {
		cached, err := s.Cache.GetRuntimeToken(ctx)
		if err == nil && cached != "" {
			return cached, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Printf("runtime: token cache read failed: %v", err)
		}
	}

	token, ttl, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}

	if s.Cache != nil && ttl > 0 {
		// a missed cache write only costs an extra exchange later
		if err := s.Cache.SetRuntimeToken(ctx, token, ttl); err != nil {
			log.Printf("runtime: token cache write failed: %v", err)
		}
	}
	return token, nil
}

func (s *ExchangeTokenSource) exchange(ctx context.Context) (string, time.Duration, error) {
	if strings.TrimSpace(s.ClientSecret) == "" {
		return "", 0, errors.New("runtime: client secret is required")
	}

	b, err := json.Marshal(tokenReq{
		GrantType:    "client_credentials",
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.AuthURL, bytes.NewReader(b))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("runtime: token exchange status %d", resp.StatusCode)
	}

	var decoded tokenResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", 0, err
	}
	if decoded.Error != "" {
		return "", 0, errors.New(decoded.Error)
	}
	if decoded.AccessToken == "" {
		return "", 0, errors.New("runtime: empty access token")
	}

	ttl := time.Duration(decoded.ExpiresIn)*time.Second - s.ExpiryMargin
	if ttl < 0 {
		ttl = 0
	}
	return decoded.AccessToken, ttl, nil
}
