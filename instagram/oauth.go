package instagram

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Token is the short-lived user token returned by the code exchange.
type Token struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
}

// ExchangeCode trades an OAuth authorization code for a user token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	if c.cfg.AppID == "" || c.cfg.AppSecret == "" {
		return nil, ErrNotConfigured
	}
	code = strings.TrimSuffix(strings.TrimSpace(code), "#_")
	if code == "" {
		return nil, fmt.Errorf("instagram: empty authorization code")
	}

	form := url.Values{}
	form.Set("client_id", c.cfg.AppID)
	form.Set("client_secret", c.cfg.AppSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code", code)

	endpoint := strings.TrimRight(c.cfg.OAuthURL, "/") + "/oauth/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok Token
	if err := c.doJSON(req, &tok); err != nil {
		return nil, err
	}
	log.Info().Int64("user_id", tok.UserID).Msg("Instagram: authorization code exchanged")
	return &tok, nil
}

// SignedRequest is the payload Meta posts to the data-deletion callback.
type SignedRequest struct {
	UserID    string `json:"user_id"`
	Algorithm string `json:"algorithm"`
	IssuedAt  int64  `json:"issued_at"`
}

// DeletionResponse is the confirmation Meta expects back.
type DeletionResponse struct {
	URL              string `json:"url"`
	ConfirmationCode string `json:"confirmation_code"`
}

// ParseSignedRequest verifies "<sig>.<payload>", both base64url, where sig is
// HMAC-SHA256 of the encoded payload keyed with the app secret.
func ParseSignedRequest(signed, secret string) (*SignedRequest, error) {
	if secret == "" {
		return nil, ErrNotConfigured
	}
	encodedSig, encodedPayload, ok := strings.Cut(signed, ".")
	if !ok || encodedSig == "" || encodedPayload == "" {
		return nil, ErrInvalidSignature
	}

	sig, err := decodeSegment(encodedSig)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encodedPayload))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, ErrInvalidSignature
	}

	payload, err := decodeSegment(encodedPayload)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	var req SignedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, ErrInvalidSignature
	}
	if !strings.EqualFold(req.Algorithm, "HMAC-SHA256") {
		return nil, ErrInvalidSignature
	}
	return &req, nil
}

// HandleDeletion verifies the request and returns the confirmation. The site
// stores no per-user Instagram data, so nothing further is deleted.
func (c *Client) HandleDeletion(signed string) (*DeletionResponse, error) {
	req, err := ParseSignedRequest(signed, c.cfg.AppSecret)
	if err != nil {
		return nil, err
	}
	code := uuid.NewString()
	log.Info().Str("user_id", req.UserID).Str("confirmation_code", code).Msg("Instagram: data deletion requested")

	status := c.cfg.StatusURL
	if status != "" {
		status += "?code=" + url.QueryEscape(code)
	}
	return &DeletionResponse{URL: status, ConfirmationCode: code}, nil
}

// signed requests arrive unpadded, but accept padding too
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// SignRequest is the inverse of ParseSignedRequest, used by tests and local tooling.
func SignRequest(req SignedRequest, secret string) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)) + "." + encoded, nil
}
