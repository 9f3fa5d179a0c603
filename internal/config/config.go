package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Proxy holds all configuration for the edge proxy binary.
type Proxy struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Telemetry
	MetricsAddress string `yaml:"metrics_address"`

	// Connection handling
	ReadTimeout  int `yaml:"read_timeout"`  // ms
	WriteTimeout int `yaml:"write_timeout"` // ms

	// Status ping response
	StatusMOTD       string `yaml:"status_motd"`
	StatusMaxPlayers int    `yaml:"status_max_players"`

	// Admission filter
	Filter Filter `yaml:"filter"`
}

// Filter holds the connection admission and bot-verification settings.
type Filter struct {
	Enabled bool `yaml:"enabled"`

	// Hard limits
	MaxOnlinePerIP int `yaml:"max_online_per_ip"`

	// Validation regexes
	ValidNameRegex   string `yaml:"valid_name_regex"`
	ValidLocaleRegex string `yaml:"valid_locale_regex"`
	ValidBrandRegex  string `yaml:"valid_brand_regex"`

	// Two-step admission
	ForceRejoin     bool `yaml:"force_rejoin"`
	RejoinValidTime int  `yaml:"rejoin_valid_time"` // seconds
	RejoinDelay     int  `yaml:"rejoin_delay"`      // seconds

	// Attack detection
	MinPlayersForAttack int `yaml:"min_players_for_attack"` // connections per second
	MinAttackDuration   int `yaml:"min_attack_duration"`    // seconds

	// Admission queue
	Queue QueueConfig `yaml:"queue"`

	// Session lifetimes
	VerificationDeadline int `yaml:"verification_deadline"` // seconds
	RememberTime         int `yaml:"remember_time"`         // seconds

	// Reputation policy
	BlacklistThreshold int `yaml:"blacklist_threshold"`
	BlacklistTime      int `yaml:"blacklist_time"` // seconds

	// Checks
	MapCaptcha  CaptchaConfig `yaml:"map_captcha"`
	Gravity     GravityConfig `yaml:"gravity"`
	Collision   CheckToggle   `yaml:"collision"`
	Vehicle     CheckToggle   `yaml:"vehicle"`
	ClientBrand CheckToggle   `yaml:"client_brand"`
}

// QueueConfig bounds the admission queue and its drain rate.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
	MaxPolls int `yaml:"max_polls"` // entries drained per second
}

// CaptchaConfig holds map CAPTCHA parameters.
type CaptchaConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Alphabet       string `yaml:"alphabet"`
	CodeLength     int    `yaml:"code_length"`
	Precompute     int    `yaml:"precompute"`
	MaxTries       int    `yaml:"max_tries"`
	MaxDuration    int    `yaml:"max_duration"` // seconds
	BackgroundPath string `yaml:"background_path"`
}

// GravityConfig holds gravity check parameters.
type GravityConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxMovementTicks int  `yaml:"max_movement_ticks"`
}

// CheckToggle enables or disables a single verification check.
type CheckToggle struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultProxy returns Proxy config with sensible defaults.
func DefaultProxy() Proxy {
	return Proxy{
		BindAddress:      "0.0.0.0",
		Port:             25565,
		MetricsAddress:   "127.0.0.1:9101",
		ReadTimeout:      15000,
		WriteTimeout:     5000,
		StatusMOTD:       "mcguard edge",
		StatusMaxPlayers: 500,
		Filter:           DefaultFilter(),
	}
}

// DefaultFilter returns Filter config with sensible defaults.
func DefaultFilter() Filter {
	return Filter{
		Enabled:              true,
		MaxOnlinePerIP:       3,
		ValidNameRegex:       `^[A-Za-z0-9_]{3,16}$`,
		ValidLocaleRegex:     `^[a-zA-Z_]{2,16}$`,
		ValidBrandRegex:      `^[!-~ ]{1,128}$`,
		ForceRejoin:          false,
		RejoinValidTime:      30,
		RejoinDelay:          10,
		MinPlayersForAttack:  100,
		MinAttackDuration:    60,
		Queue:                QueueConfig{Capacity: 10000, MaxPolls: 10},
		VerificationDeadline: 30,
		RememberTime:         120,
		BlacklistThreshold:   3,
		BlacklistTime:        600,
		MapCaptcha: CaptchaConfig{
			Enabled:     true,
			Alphabet:    "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
			CodeLength:  4,
			Precompute:  500,
			MaxTries:    3,
			MaxDuration: 45,
		},
		Gravity:     GravityConfig{Enabled: true, MaxMovementTicks: 40},
		Collision:   CheckToggle{Enabled: true},
		Vehicle:     CheckToggle{Enabled: false},
		ClientBrand: CheckToggle{Enabled: true},
	}
}

// LoadProxy loads proxy config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadProxy(path string) (Proxy, error) {
	cfg := DefaultProxy()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
