// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/deglet/internal/common"
)

var (
	ErrMissingSigningKey = errors.New("config: missing signing key")
	ErrMissingDSN        = errors.New("config: missing database DSN")
)

// Config holds runtime settings for the deglet server.
//
// Fields:
//   - HTTPAddr: bind address of the signed envelope API.
//   - GRPCAddr: bind address of the gRPC health service.
//   - DatabaseDSN: PostgreSQL DSN (pgx).
//   - SigningKey: hex Ed25519 seed the server signs responses with.
//   - CosignerURL / CosignerTimeout: cosigning service; empty URL disables cosigning.
//   - PublicURL: external base URL used to compute request audiences behind proxies.
//   - AllowedOrigins: CORS origins.
//   - LogLevel: debug, info, warn or error.
//   - MinSaltEntropy: signup salt entropy floor.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	DatabaseDSN     string
	SigningKey      string
	CosignerURL     string
	CosignerTimeout time.Duration
	PublicURL       string
	AllowedOrigins  []string
	LogLevel        string
	MinSaltEntropy  float64
}

// LoadDefaults populates Config with development defaults. There is no
// default signing key or database DSN; both must be configured.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.CosignerTimeout = 10 * time.Second
	c.AllowedOrigins = []string{"*"}
	c.LogLevel = "info"
	c.MinSaltEntropy = common.MinSaltEntropy
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.SigningKey == "" {
		return ErrMissingSigningKey
	}
	if c.DatabaseDSN == "" {
		return ErrMissingDSN
	}
	return nil
}
