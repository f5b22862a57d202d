// Package config loads overseer settings from a YAML file with environment
// overrides. A missing file yields the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haricheung/overseer/internal/council"
	"github.com/haricheung/overseer/internal/platform"
)

const (
	DefaultInterval       = 15 * time.Second
	DefaultAuditBound     = 50
	DefaultContextEntries = 10
	DefaultRedisPrefix    = "overseer"
)

// Config is the full runtime configuration.
type Config struct {
	Autopilot  Autopilot      `yaml:"autopilot"`
	Audit      Audit          `yaml:"audit"`
	Store      Store          `yaml:"store"`
	TasklogDir string         `yaml:"tasklog_dir"`
	Council    council.Config `yaml:"council"`
	Seed       platform.Seed  `yaml:"seed"`
}

type Autopilot struct {
	Interval time.Duration `yaml:"interval"`
}

type Audit struct {
	Bound          int `yaml:"bound"`
	ContextEntries int `yaml:"context_entries"`
}

// Store configures the durable tiers. An empty RedisAddr means local-only.
type Store struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	LocalPath     string `yaml:"local_path"`
}

func cacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "overseer")
	}
	return filepath.Join(home, ".cache", "overseer")
}

// Default returns the built-in configuration.
func Default() Config {
	dir := cacheDir()
	return Config{
		Autopilot:  Autopilot{Interval: DefaultInterval},
		Audit:      Audit{Bound: DefaultAuditBound, ContextEntries: DefaultContextEntries},
		Store:      Store{RedisPrefix: DefaultRedisPrefix, LocalPath: filepath.Join(dir, "store")},
		TasklogDir: filepath.Join(dir, "tasks"),
		Council: council.Config{
			MaxTeam:     council.DefaultMaxTeam,
			MaxPins:     council.DefaultMaxPins,
			DefaultTeam: council.DefaultTeamSize,
			Advisors:    defaultAdvisors(),
			Suggestions: []string{
				"How do we re-engage members who went quiet this quarter?",
				"Should we run a flash fundraising campaign for server costs?",
				"How can onboarding help new members find the right spaces faster?",
				"What would a fair points economy look like for long-time contributors?",
			},
		},
		Seed: defaultSeed(),
	}
}

func defaultAdvisors() []council.Advisor {
	return []council.Advisor{
		{
			ID: "strategist", Name: "Morgan", Title: "Chief Strategist", Generalist: true,
			Persona: "You see the whole board. You connect ideas across disciplines and keep the council focused on what matters most.",
		},
		{
			ID: "growth", Name: "Ada", Title: "Head of Growth",
			Persona:  "You obsess over activation, retention and referral loops. You want measurable lifts, fast.",
			Keywords: []string{"growth", "retention", "referral", "onboarding", "engage", "activation", "churn"},
		},
		{
			ID: "community", Name: "Rosa", Title: "Community Lead",
			Persona:  "You speak for the members. You care about trust, belonging and fairness.",
			Keywords: []string{"community", "member", "trust", "moderation", "fair", "culture", "quiet"},
		},
		{
			ID: "finance", Name: "Linus", Title: "Finance Director",
			Persona:  "You guard the budget. Every proposal must justify its cost and its risk.",
			Keywords: []string{"budget", "cost", "fundraising", "campaign", "revenue", "points", "economy"},
		},
		{
			ID: "product", Name: "Grace", Title: "Product Lead",
			Persona:  "You think in user journeys and navigation. You simplify relentlessly.",
			Keywords: []string{"navigation", "feature", "ux", "design", "find", "spaces", "product"},
		},
		{
			ID: "comms", Name: "Maya", Title: "Communications Director",
			Persona:  "You own the message. Announcements must be clear, timely and on brand.",
			Keywords: []string{"announcement", "brand", "message", "marketing", "launch", "news"},
		},
		{
			ID: "data", Name: "Ken", Title: "Analytics Lead",
			Persona:  "You trust numbers over anecdotes and always ask how success will be measured.",
			Keywords: []string{"data", "metrics", "analytics", "measure", "experiment", "quarter"},
		},
	}
}

func defaultSeed() platform.Seed {
	return platform.Seed{
		Users: []platform.User{
			{ID: "u-1001", Name: "alice", Points: 1200, Segment: "vip"},
			{ID: "u-1002", Name: "bob", Points: 80, Segment: "new"},
			{ID: "u-1003", Name: "carol", Points: 430, Segment: "active"},
			{ID: "u-1004", Name: "dave", Points: 15, Segment: "dormant"},
			{ID: "u-1005", Name: "erin", Points: 910, Segment: "active"},
		},
		Navigation: []platform.NavCategory{
			{Name: "Community", Entries: []platform.NavEntry{
				{Title: "Feed", Description: "Latest posts", ViewName: "feed", IconName: "home"},
				{Title: "Members", Description: "Member directory", ViewName: "members", IconName: "users"},
			}},
			{Name: "Rewards", Entries: []platform.NavEntry{
				{Title: "Points", Description: "Your balance and history", ViewName: "points", IconName: "star"},
			}},
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file (or an empty path) is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("OVERSEER_REDIS_ADDR")); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("OVERSEER_REDIS_PASSWORD"); v != "" {
		c.Store.RedisPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("OVERSEER_REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Store.RedisDB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("OVERSEER_STORE_PATH")); v != "" {
		c.Store.LocalPath = v
	}
	if v := strings.TrimSpace(os.Getenv("OVERSEER_INTERVAL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Autopilot.Interval = d
		}
	}
}

func (c *Config) normalize() {
	if c.Autopilot.Interval <= 0 {
		c.Autopilot.Interval = DefaultInterval
	}
	if c.Audit.Bound <= 0 {
		c.Audit.Bound = DefaultAuditBound
	}
	if c.Audit.ContextEntries <= 0 {
		c.Audit.ContextEntries = DefaultContextEntries
	}
	if c.Audit.ContextEntries > c.Audit.Bound {
		c.Audit.ContextEntries = c.Audit.Bound
	}
	if strings.TrimSpace(c.Store.RedisPrefix) == "" {
		c.Store.RedisPrefix = DefaultRedisPrefix
	}
	c.Store.RedisAddr = strings.TrimSpace(c.Store.RedisAddr)
	c.Store.LocalPath = expandHome(strings.TrimSpace(c.Store.LocalPath))
	c.TasklogDir = expandHome(strings.TrimSpace(c.TasklogDir))
	if c.Council.MaxTeam <= 0 {
		c.Council.MaxTeam = council.DefaultMaxTeam
	}
	if c.Council.MaxPins <= 0 {
		c.Council.MaxPins = council.DefaultMaxPins
	}
	if c.Council.DefaultTeam <= 0 || c.Council.DefaultTeam > c.Council.MaxTeam {
		c.Council.DefaultTeam = min(council.DefaultTeamSize, c.Council.MaxTeam)
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Council.Advisors))
	for i, a := range c.Council.Advisors {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("council.advisors[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("council.advisors[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("council.advisors[%d]: name is required", i)
		}
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
