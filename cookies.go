package goAccounts

import (
	"net/http"
	"time"
)

// GuestTokenName is the single cookie name used by every guest path:
// bootstrap sets it, OAuth conversion reads and clears it.
const GuestTokenName = "guestToken"

// RefreshCookie builds the HTTP-only refresh cookie for a session.
// Scoped to the API path and SameSite-strict so browser scripts and
// cross-site requests never see it.
func (e *Engine) RefreshCookie(token string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     e.config.Cookies.RefreshName,
		Value:    token,
		Path:     e.config.Cookies.Path,
		Domain:   e.config.Cookies.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   e.config.Cookies.Secure,
		SameSite: e.config.Cookies.SameSite,
	}
}

// ClearRefreshCookie builds the expired cookie that removes the refresh
// token from the client.
func (e *Engine) ClearRefreshCookie() *http.Cookie {
	return &http.Cookie{
		Name:     e.config.Cookies.RefreshName,
		Value:    "",
		Path:     e.config.Cookies.Path,
		Domain:   e.config.Cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   e.config.Cookies.Secure,
		SameSite: e.config.Cookies.SameSite,
	}
}

// GuestCookie builds the long-lived guest identity cookie.
func (e *Engine) GuestCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     e.config.Cookies.GuestName,
		Value:    token,
		Path:     e.config.Cookies.Path,
		Domain:   e.config.Cookies.Domain,
		Expires:  e.now().Add(e.config.JWT.GuestTTL),
		HttpOnly: true,
		Secure:   e.config.Cookies.Secure,
		SameSite: e.config.Cookies.SameSite,
	}
}

// ClearGuestCookie builds the expired cookie that removes the guest
// identity after conversion to a full account.
func (e *Engine) ClearGuestCookie() *http.Cookie {
	return &http.Cookie{
		Name:     e.config.Cookies.GuestName,
		Value:    "",
		Path:     e.config.Cookies.Path,
		Domain:   e.config.Cookies.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   e.config.Cookies.Secure,
		SameSite: e.config.Cookies.SameSite,
	}
}
