// Package discordrest is the vendor gateway client: one call to fetch
// the recommended shard count and max concurrency. Everything else the
// vendor REST API might offer is out of scope.
package discordrest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidToken is returned when the vendor rejects our token.
var ErrInvalidToken = errors.New("discordrest: invalid token")

// SessionStartLimit mirrors the vendor's /gateway/bot session_start_limit
// object.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

type gatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// Client is the REST client used for the single /gateway/bot call the
// Reconciler needs. It deliberately carries none of a full vendor SDK's
// surface area.
type Client struct {
	Token string

	HTTP      *http.Client
	URLScheme string
	URLHost   string
	UserAgent string
}

// NewClient builds a Client bound to token.
func NewClient(token string) *Client {
	return &Client{
		Token:     token,
		HTTP:      http.DefaultClient,
		URLScheme: "https",
		URLHost:   "discord.com",
		UserAgent: "stratum (https://github.com/TheRockettek/stratum, 0.1)",
	}
}

// GatewayInfo is the result of GetGatewayBot.
type GatewayInfo struct {
	RecommendedShards int
	MaxConcurrency    int
}

// GetGatewayBot calls GET /api/v10/gateway/bot and returns the recommended
// shard count together with the max_concurrency handshake budget.
func (c *Client) GetGatewayBot(ctx context.Context) (GatewayInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URLScheme+"://"+c.URLHost+"/api/v10/gateway/bot", nil)
	if err != nil {
		return GatewayInfo{}, fmt.Errorf("discordrest: build request: %w", err)
	}

	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Authorization", "Bot "+c.Token)

	res, err := c.HTTP.Do(req)
	if err != nil {
		return GatewayInfo{}, fmt.Errorf("discordrest: gateway/bot request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusUnauthorized:
		return GatewayInfo{}, fmt.Errorf("%w: %w", stratumerrors.ErrConfig, ErrInvalidToken)
	case http.StatusTooManyRequests:
		return GatewayInfo{}, fmt.Errorf("%w: discordrest: gateway/bot returned 429", stratumerrors.ErrVendorRateLimit)
	}

	if res.StatusCode >= 400 {
		return GatewayInfo{}, fmt.Errorf("discordrest: gateway/bot returned status %d", res.StatusCode)
	}

	var body gatewayBot
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return GatewayInfo{}, fmt.Errorf("discordrest: decode gateway/bot response: %w", err)
	}

	return GatewayInfo{
		RecommendedShards: body.Shards,
		MaxConcurrency:    body.SessionStartLimit.MaxConcurrency,
	}, nil
}
