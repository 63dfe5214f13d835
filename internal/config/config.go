package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
	} `yaml:"auth"`
	Game struct {
		MinPlayers       int    `yaml:"minPlayers"`
		MaxPlayers       int    `yaml:"maxPlayers"`
		QuestionCount    int    `yaml:"questionCount"`
		Category         string `yaml:"category"`
		Difficulty       string `yaml:"difficulty"`
		TimePerQuestion  string `yaml:"timePerQuestion"`
		RevealDuration   string `yaml:"revealDuration"`
		DisconnectGrace  string `yaml:"disconnectGrace"`
		LobbyInactivity  string `yaml:"lobbyInactivity"`
		ResultsRetention string `yaml:"resultsRetention"`
		Scoring          struct {
			BasePoints          int     `yaml:"basePoints"`
			MaxSpeedBonus       int     `yaml:"maxSpeedBonus"`
			StreakEnabled       bool    `yaml:"streakEnabled"`
			StreakFactor        float64 `yaml:"streakFactor"`
			MaxStreakMultiplier float64 `yaml:"maxStreakMultiplier"`
		} `yaml:"scoring"`
	} `yaml:"game"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or
// malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IntOr returns n unless it is non-positive.
func IntOr(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}
