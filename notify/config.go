// Package notify delivers board notifications to a Slack-compatible
// webhook. Delivery is best-effort: failures are logged and never surface
// to the user whose action produced the notification.
package notify

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds relay settings, loaded from an optional TOML file with
// environment overrides.
type Config struct {
	WebhookURL   string   `toml:"webhook_url"`
	Footer       string   `toml:"footer"`
	PollInterval duration `toml:"poll_interval"`
	BatchSize    int32    `toml:"batch_size"`
	PostTimeout  duration `toml:"post_timeout"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		Footer:       "Task Board",
		PollInterval: duration{5 * time.Second},
		BatchSize:    16,
		PostTimeout:  duration{5 * time.Second},
	}
}

// LoadConfig reads the TOML file at path when it exists and applies
// environment overrides. A missing file is not an error; a missing
// webhook URL disables delivery (the relay drains the queue silently).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.PollInterval.Duration <= 0 {
		cfg.PollInterval = duration{5 * time.Second}
	}
	if cfg.PostTimeout.Duration <= 0 {
		cfg.PostTimeout = duration{5 * time.Second}
	}
	return cfg, nil
}
