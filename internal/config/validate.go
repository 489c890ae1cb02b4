package config

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

var hexAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secret
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Amounts
	if !c.Chat.Cost.IsPositive() {
		errs = append(errs, "CHAT_COST must be positive")
	}
	if c.Ledger.StartingGrant.IsNegative() {
		errs = append(errs, "LEDGER_STARTING_GRANT must not be negative")
	}
	if !c.Ledger.ExchangeRate.IsPositive() {
		errs = append(errs, "LEDGER_EXCHANGE_RATE must be positive")
	}

	// Limits
	if c.RateLimit.ChatMax < 1 {
		errs = append(errs, "RATELIMIT_CHAT_MAX must be at least 1")
	}
	if c.RateLimit.ChatWindow <= 0 {
		errs = append(errs, "RATELIMIT_CHAT_WINDOW must be positive")
	}
	if c.Summary.Concurrency < 1 {
		errs = append(errs, "SUMMARY_CONCURRENCY must be at least 1")
	}
	if c.Summary.MaxAttempts < 1 {
		errs = append(errs, "SUMMARY_MAX_ATTEMPTS must be at least 1")
	}

	// Engagement schedule must be a standard five-field cron expression
	if _, err := cron.ParseStandard(c.Engagement.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("ENGAGEMENT_SCHEDULE is invalid: %v", err))
	}

	// Treasury: warn only, deposits are rejected while it is unset
	if c.Chain.TreasuryAddress == "" {
		slog.Warn("CHAIN_TREASURY_ADDRESS is empty, deposits will be rejected")
	} else if !hexAddress.MatchString(c.Chain.TreasuryAddress) {
		errs = append(errs, "CHAIN_TREASURY_ADDRESS must be a 0x-prefixed 40 hex character address")
	}

	// LLM key: warn only
	if c.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY is empty, completion calls will fail")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
