// Package config defines the explicit configuration object injected into the
// API client, webhook server and queue processor. All recognized keys live
// here; nothing reads configuration from globals.
package config

import "time"

// DefaultAPIURL is the CheckStep API base used when none is configured.
const DefaultAPIURL = "https://api.checkstep.com/v1"

// Config carries every setting the relay recognizes. The binary populates it
// from CLI flags / environment once at startup and hands it to constructors.
type Config struct {
	// CheckStep API credentials and endpoints.
	APIKey string
	APIURL string

	// Shared secret for inbound webhook signatures (X-CheckStep-Signature).
	WebhookSecret string

	// URL included in user-facing notifications for appealing a decision.
	AppealURL string

	// Bearer token protecting the operational endpoints (/queue/*, /decisions/*).
	// Empty disables auth on those routes (dev mode).
	AdminKey string

	// NotificationLevel controls how noisy owner notifications are:
	// "all", "actions" (only content-mutating decisions), or "none".
	NotificationLevel string

	// AutoModeration gates whether inbound decisions mutate content at all.
	// When false, mutating decisions are logged but not applied.
	AutoModeration bool

	// Host CMS adapter base URL (content reads and moderation mutations).
	HostURL string

	// Queue backing store.
	RedisAddr string

	// Processor sweep cadence, as a robfig/cron spec (e.g. "@every 1m").
	SweepSpec string

	// Max entries claimed per sweep.
	BatchSize int

	// Entries stuck in processing longer than this are reclaimed as pending.
	StaleClaimTimeout time.Duration

	// Outbound submission rate limit (token bucket: tokens/sec and capacity).
	SubmitRate  int
	SubmitBurst int

	// Listen addresses.
	Bind        string
	MetricsBind string
}

// Default returns a Config with the documented defaults filled in. Callers
// overwrite fields from flags/environment before wiring components.
func Default() Config {
	return Config{
		APIURL:            DefaultAPIURL,
		NotificationLevel: "all",
		AutoModeration:    true,
		RedisAddr:         "127.0.0.1:6379",
		SweepSpec:         "@every 1m",
		BatchSize:         10,
		StaleClaimTimeout: 10 * time.Minute,
		SubmitRate:        10,
		SubmitBurst:       20,
		Bind:              ":8081",
		MetricsBind:       ":8080",
	}
}
