package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentdesk/internal/domain"
)

// ClientCredentials performs an OAuth client-credentials grant against a
// token endpoint using HTTP basic auth.
type ClientCredentials struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Now          func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c ClientCredentials) Exchange(ctx context.Context) (domain.Credential, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return domain.Credential{}, &domain.AuthError{
			Kind: domain.ErrInvalidCredentials,
			Err:  errors.New("client id and client secret are required"),
		}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Credential{}, fmt.Errorf("creating token request: %w", err)
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return domain.Credential{}, &domain.AuthError{Kind: domain.ErrNetworkUnavailable, Err: err}
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return domain.Credential{}, &domain.AuthError{Kind: domain.ErrNetworkUnavailable, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		return domain.Credential{}, &domain.AuthError{Kind: domain.ErrInvalidCredentials, Status: resp.StatusCode, Body: string(body)}
	case resp.StatusCode == http.StatusForbidden:
		return domain.Credential{}, &domain.AuthError{Kind: domain.ErrForbidden, Status: resp.StatusCode, Body: string(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return domain.Credential{}, &domain.AuthError{Kind: domain.ErrAuthUnknown, Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return domain.Credential{}, &domain.AuthError{Kind: domain.ErrAuthUnknown, Err: fmt.Errorf("parsing token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return domain.Credential{}, &domain.AuthError{Kind: domain.ErrAuthUnknown, Err: errors.New("token response has no access_token")}
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return domain.Credential{
		Token:     tr.AccessToken,
		ExpiresAt: now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
