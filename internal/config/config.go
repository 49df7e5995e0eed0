package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the node's process configuration. Everything comes from the
// environment; there is no config file.
type Config struct {
	ListenAddr string
	PGDSN      string

	// Network identity stamped into every outbound context.
	SubscriberID  string
	SubscriberURI string
	Domain        string
	Country       string
	City          string
	CoreVersion   string

	// Network endpoints.
	GatewayURL  string
	RegistryURL string

	// Signing credential. The key is a base64 Ed25519 private key (64 bytes)
	// or seed (32 bytes).
	UniqueKeyID string
	SigningKey  string

	// Outbound delivery tuning; zero values take the network defaults.
	DeliveryMaxAttempts int
	DeliveryBackoff     time.Duration
	DeliveryMaxElapsed  time.Duration
}

// FromEnv reads BAP_* variables. Identity, endpoints and the signing key
// are required; the node refuses to start half-configured rather than sign
// with a missing key.
func FromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:    envOr("BAP_LISTEN_ADDR", ":8080"),
		PGDSN:         os.Getenv("BAP_PG_DSN"),
		SubscriberID:  os.Getenv("BAP_SUBSCRIBER_ID"),
		SubscriberURI: os.Getenv("BAP_SUBSCRIBER_URI"),
		Domain:        os.Getenv("BAP_DOMAIN"),
		Country:       envOr("BAP_COUNTRY", "IND"),
		City:          os.Getenv("BAP_CITY"),
		CoreVersion:   envOr("BAP_CORE_VERSION", "1.1.0"),
		GatewayURL:    os.Getenv("BAP_GATEWAY_URL"),
		RegistryURL:   os.Getenv("BAP_REGISTRY_URL"),
		UniqueKeyID:   os.Getenv("BAP_UNIQUE_KEY_ID"),
		SigningKey:    os.Getenv("BAP_SIGNING_KEY"),
	}

	for _, req := range []struct{ name, value string }{
		{"BAP_SUBSCRIBER_ID", cfg.SubscriberID},
		{"BAP_SUBSCRIBER_URI", cfg.SubscriberURI},
		{"BAP_DOMAIN", cfg.Domain},
		{"BAP_GATEWAY_URL", cfg.GatewayURL},
		{"BAP_REGISTRY_URL", cfg.RegistryURL},
		{"BAP_UNIQUE_KEY_ID", cfg.UniqueKeyID},
		{"BAP_SIGNING_KEY", cfg.SigningKey},
	} {
		if req.value == "" {
			return Config{}, fmt.Errorf("missing %s", req.name)
		}
	}

	var err error
	if cfg.DeliveryMaxAttempts, err = envInt("BAP_DELIVERY_MAX_ATTEMPTS"); err != nil {
		return Config{}, err
	}
	if cfg.DeliveryBackoff, err = envDuration("BAP_DELIVERY_BACKOFF"); err != nil {
		return Config{}, err
	}
	if cfg.DeliveryMaxElapsed, err = envDuration("BAP_DELIVERY_MAX_ELAPSED"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func envDuration(name string) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}
