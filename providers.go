package goAccounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ProviderHTTP is the default ProviderClient. It talks to the real
// google, github and yandex endpoints: one token exchange followed by
// one profile fetch, both under the configured request timeout.
type ProviderHTTP struct {
	providers map[Provider]OAuthProviderConfig
	client    *http.Client
}

// NewProviderHTTP builds the default provider client from OAuth config.
func NewProviderHTTP(cfg OAuthConfig) *ProviderHTTP {
	return &ProviderHTTP{
		providers: cfg.Providers,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (p *ProviderHTTP) Exchange(ctx context.Context, provider Provider, authCode string) (*ProviderProfile, error) {
	pc, ok := p.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", ErrUnsupportedProvider, provider)
	}

	switch provider {
	case ProviderGoogle:
		return p.exchangeGoogle(ctx, pc, authCode)
	case ProviderGitHub:
		return p.exchangeGitHub(ctx, pc, authCode)
	case ProviderYandex:
		return p.exchangeYandex(ctx, pc, authCode)
	default:
		return nil, fmt.Errorf("%w: %s has no code-exchange protocol", ErrUnsupportedProvider, provider)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

/*
====================================
GOOGLE
====================================
*/

func (p *ProviderHTTP) exchangeGoogle(ctx context.Context, pc OAuthProviderConfig, authCode string) (*ProviderProfile, error) {
	form := url.Values{
		"code":          {authCode},
		"client_id":     {pc.ClientID},
		"client_secret": {pc.ClientSecret},
		"redirect_uri":  {pc.RedirectURI},
		"grant_type":    {"authorization_code"},
	}

	tok, err := p.exchangeToken(ctx, "https://oauth2.googleapis.com/token", form, nil)
	if err != nil {
		return nil, err
	}

	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := p.fetchProfile(ctx, "https://openidconnect.googleapis.com/v1/userinfo", tok.AccessToken, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: google profile has no subject id", ErrValidation)
	}

	return &ProviderProfile{
		ProviderID:    info.Sub,
		Email:         strings.ToLower(info.Email),
		EmailVerified: info.EmailVerified,
		DisplayName:   info.Name,
		PictureURL:    info.Picture,
	}, nil
}

/*
====================================
GITHUB
====================================
*/

func (p *ProviderHTTP) exchangeGitHub(ctx context.Context, pc OAuthProviderConfig, authCode string) (*ProviderProfile, error) {
	form := url.Values{
		"code":          {authCode},
		"client_id":     {pc.ClientID},
		"client_secret": {pc.ClientSecret},
		"redirect_uri":  {pc.RedirectURI},
	}

	// github returns form-encoded by default, JSON only on request
	tok, err := p.exchangeToken(ctx, "https://github.com/login/oauth/access_token", form, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		return nil, err
	}

	var user struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Login string `json:"login"`
		Photo string `json:"avatar_url"`
	}
	if err := p.fetchProfile(ctx, "https://api.github.com/user", tok.AccessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: github profile has no subject id", ErrValidation)
	}

	email, verified, err := p.fetchGitHubEmail(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	display := user.Name
	if display == "" {
		display = user.Login
	}

	return &ProviderProfile{
		ProviderID:    strconv.FormatInt(user.ID, 10),
		Email:         strings.ToLower(email),
		EmailVerified: verified,
		DisplayName:   display,
		PictureURL:    user.Photo,
	}, nil
}

// fetchGitHubEmail resolves the primary address; the /user payload omits
// emails kept private.
func (p *ProviderHTTP) fetchGitHubEmail(ctx context.Context, accessToken string) (string, bool, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.fetchProfile(ctx, "https://api.github.com/user/emails", accessToken, &emails); err != nil {
		return "", false, err
	}

	for _, e := range emails {
		if e.Primary {
			return e.Email, e.Verified, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, emails[0].Verified, nil
	}
	return "", false, nil
}

/*
====================================
YANDEX
====================================
*/

func (p *ProviderHTTP) exchangeYandex(ctx context.Context, pc OAuthProviderConfig, authCode string) (*ProviderProfile, error) {
	form := url.Values{
		"code":          {authCode},
		"client_id":     {pc.ClientID},
		"client_secret": {pc.ClientSecret},
		"grant_type":    {"authorization_code"},
	}

	tok, err := p.exchangeToken(ctx, "https://oauth.yandex.ru/token", form, nil)
	if err != nil {
		return nil, err
	}

	var info struct {
		ID           string `json:"id"`
		DefaultEmail string `json:"default_email"`
		DisplayName  string `json:"display_name"`
		AvatarID     string `json:"default_avatar_id"`
		AvatarEmpty  bool   `json:"is_avatar_empty"`
	}
	if err := p.fetchProfile(ctx, "https://login.yandex.ru/info?format=json", tok.AccessToken, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, fmt.Errorf("%w: yandex profile has no subject id", ErrValidation)
	}

	picture := ""
	if info.AvatarID != "" && !info.AvatarEmpty {
		picture = "https://avatars.yandex.net/get-yapic/" + info.AvatarID + "/islands-200"
	}

	return &ProviderProfile{
		ProviderID: info.ID,
		Email:      strings.ToLower(info.DefaultEmail),
		// yandex only reports addresses it has verified itself
		EmailVerified: info.DefaultEmail != "",
		DisplayName:   info.DisplayName,
		PictureURL:    picture,
	}, nil
}

/*
====================================
SHARED TRANSPORT
====================================
*/

func (p *ProviderHTTP) exchangeToken(ctx context.Context, endpoint string, form url.Values, headers map[string]string) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrBackend, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token exchange returned %d", ErrValidation, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrValidation, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token exchange returned no access token", ErrValidation)
	}
	if tok.TokenType != "" && !strings.EqualFold(tok.TokenType, "bearer") {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrValidation, tok.TokenType)
	}

	return &tok, nil
}

func (p *ProviderHTTP) fetchProfile(ctx context.Context, endpoint, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: profile fetch: %v", ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: profile fetch: %v", ErrBackend, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: profile fetch returned %d", ErrValidation, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: profile fetch: %v", ErrValidation, err)
	}
	return nil
}
