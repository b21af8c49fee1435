package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Bus drivers accepted by Config.Bus.Driver.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Bus struct {
		Driver string `yaml:"driver"`
	} `yaml:"bus"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Room struct {
		TTL               string `yaml:"ttl"`
		HeartbeatInterval string `yaml:"heartbeat_interval"`
		ResultPause       string `yaml:"result_pause"`
	} `yaml:"room"`
}

// Load reads YAML config from path. Environment variables in the file are expanded.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BusDriver picks the event bus: the configured driver, else NATS or Redis when
// one is configured, else in-process.
func (c Config) BusDriver() string {
	switch {
	case c.Bus.Driver != "":
		return c.Bus.Driver
	case c.NATS.URL != "":
		return BusNATS
	case c.Redis.Addr != "":
		return BusRedis
	default:
		return BusMemory
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
