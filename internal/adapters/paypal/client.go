package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JAvZZe/tstr-site/internal/ports"
)

const (
	accessTokenKey = "access_token"

	// tokenSlack is shaved off the provider-reported expiry before caching
	// so a token is never used right at its deadline.
	tokenSlack = 60 * time.Second
)

// Client talks to the payment provider's REST API: OAuth token fetch,
// subscription cancellation and webhook signature verification.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	webhookID    string
	httpc        *http.Client
	tokens       *gocache.Cache
}

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	WebhookID    string
	Timeout      time.Duration
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		webhookID:    cfg.WebhookID,
		httpc:        &http.Client{Timeout: timeout},
		tokens:       gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a client-credentials token, cached below its expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if tok, found := c.tokens.Get(accessTokenKey); found {
		return tok.(string), nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token fetch status %d", ports.ErrProviderError, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ports.ErrProviderError)
	}

	ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenSlack
	if ttl > 0 {
		c.tokens.Set(accessTokenKey, tr.AccessToken, ttl)
	}
	return tr.AccessToken, nil
}

// CancelSubscription requests cancellation. 204 is the provider's success;
// 404 and 422 mean the subscription is already gone or already cancelled and
// count as success too.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}
	u := fmt.Sprintf("%s/v1/billing/subscriptions/%s/cancel", c.baseURL, subscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create cancel request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound, http.StatusUnprocessableEntity:
		return nil
	default:
		return fmt.Errorf("%w: cancel status %d", ports.ErrProviderError, resp.StatusCode)
	}
}

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhook asks the provider whether an inbound event's signature is
// genuine.
func (c *Client) VerifyWebhook(ctx context.Context, sig ports.WebhookSignature, body []byte) (bool, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(verifyRequest{
		AuthAlgo:         sig.AuthAlgo,
		CertURL:          sig.CertURL,
		TransmissionID:   sig.TransmissionID,
		TransmissionSig:  sig.TransmissionSig,
		TransmissionTime: sig.TransmissionTime,
		WebhookID:        c.webhookID,
		WebhookEvent:     json.RawMessage(body),
	})
	if err != nil {
		return false, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ports.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: verify status %d", ports.ErrProviderError, resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.Unmarshal(respBody, &vr); err != nil {
		return false, fmt.Errorf("parse verify response: %w", err)
	}
	return vr.VerificationStatus == "SUCCESS", nil
}
