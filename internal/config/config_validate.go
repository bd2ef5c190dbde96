// Shelfguard - Bookstore Backup & Sync Agent
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfguard

package config

import (
	"fmt"
	"net/url"

	"github.com/tomtom215/shelfguard/internal/logging"
	"github.com/tomtom215/shelfguard/internal/validation"
)

// Validate applies struct tag rules followed by cross-field rules.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateConnectivity(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateRemote only applies when a provider is enabled. Credentials are
// required up front because the consent flow cannot start without them.
func (c *Config) validateRemote() error {
	if !c.Remote.Enabled {
		return nil
	}
	if c.Remote.ClientID == "" {
		return fmt.Errorf("DRIVE_CLIENT_ID is required when REMOTE_ENABLED=true")
	}
	if c.Remote.ClientSecret == "" {
		return fmt.Errorf("DRIVE_CLIENT_SECRET is required when REMOTE_ENABLED=true")
	}
	if c.Remote.RedirectURL == "" {
		return fmt.Errorf("DRIVE_REDIRECT_URL is required when REMOTE_ENABLED=true")
	}
	for name, raw := range map[string]string{
		"DRIVE_REDIRECT_URL":    c.Remote.RedirectURL,
		"DRIVE_API_BASE_URL":    c.Remote.APIBaseURL,
		"DRIVE_UPLOAD_BASE_URL": c.Remote.UploadBaseURL,
	} {
		if err := validateHTTPURL(raw, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateConnectivity() error {
	if c.Connectivity.Timeout >= c.Connectivity.Interval {
		return fmt.Errorf("CONNECTIVITY_TIMEOUT (%s) must be shorter than CONNECTIVITY_INTERVAL (%s)",
			c.Connectivity.Timeout, c.Connectivity.Interval)
	}
	return validateHTTPURL(c.Connectivity.ProbeURL, "CONNECTIVITY_PROBE_URL")
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got: %s", c.Logging.Level)
	}
	return nil
}

func validateHTTPURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", field)
	}
	return nil
}
