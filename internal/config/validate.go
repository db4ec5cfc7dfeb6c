package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the configuration for the given run mode. Modes:
// "serve" needs the full stack, "migrate" only the store.
func (c *Config) Validate(mode string) error {
	var problems []string

	storeProblems := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required for the sqlite driver")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for the postgres driver")
			}
		default:
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	}

	switch mode {
	case "migrate":
		storeProblems()
	case "serve":
		storeProblems()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Anthropic.Key == "" && c.OpenAI.Key == "" {
			problems = append(problems, "at least one provider key (anthropic.key or openai.key) is required")
		}
		if c.Pricing.AdjustThreshold < 0 || c.Pricing.AdjustThreshold > 1 {
			problems = append(problems, "pricing.adjust_threshold must be between 0 and 1")
		}
		if c.RateLimit.PerSecond <= 0 {
			problems = append(problems, "ratelimit.per_second must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
