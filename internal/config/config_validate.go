// Guildsync - Real-time Collaboration Sync Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/guildsync

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return formatValidationError(err)
	}

	validators := []func() error{
		c.validateServer,
		c.validateAuth,
		c.validateReconnect,
		c.validateHTTP,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRelay checks the settings the relay binary needs.
func (c *Config) ValidateRelay() error {
	if c.Relay.Addr == "" {
		return errors.New("relay.addr is required")
	}
	if err := getValidator().Struct(c.Relay); err != nil {
		return formatValidationError(err)
	}
	if len(c.Relay.RefreshTokens) > 0 && c.Relay.JWTSecret == "" {
		return errors.New("relay.jwt_secret is required to issue tokens for relay.refresh_tokens")
	}
	return c.Logging.validate()
}

func (l LoggingConfig) validate() error {
	if err := getValidator().Struct(l); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func (c *Config) validateServer() error {
	if err := validateBaseURL(c.Server.URL, "server.url"); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAuth() error {
	if c.Auth.Token != "" {
		return nil
	}
	if c.Auth.TokenURL == "" {
		return errors.New("auth.token or auth.token_url is required")
	}
	if c.Auth.RefreshToken == "" {
		return errors.New("auth.refresh_token is required when auth.token_url is set")
	}
	return validateBaseURL(c.Auth.TokenURL, "auth.token_url")
}

func (c *Config) validateReconnect() error {
	if c.Reconnect.AuthMaxDelay < c.Reconnect.AuthBaseDelay {
		return fmt.Errorf("reconnect.auth_max_delay (%v) must not be less than reconnect.auth_base_delay (%v)",
			c.Reconnect.AuthMaxDelay, c.Reconnect.AuthBaseDelay)
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return errors.New("http.addr is required when http.enabled=true")
	}
	return nil
}

// validateBaseURL accepts http(s) URLs with a host and optional path but no
// query, fragment or userinfo; socket URLs derived from it must not carry
// secrets.
func validateBaseURL(rawURL, field string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", field)
	}
	if u.User != nil {
		return fmt.Errorf("%s must not contain credentials", field)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%s should not contain query parameters or fragments", field)
	}
	return nil
}

// formatValidationError turns validator errors into one readable line keyed
// by koanf path.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fieldPath(fe.StructNamespace()), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// fieldPath maps "Config.Collab.SyncTimeout" to "collab.sync_timeout".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
