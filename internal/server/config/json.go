package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/deglet/internal/flagx"
	"github.com/dmitrijs2005/deglet/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for the cosigner timeout, which allows parsing both
// string values such as "30s" and integer nanoseconds.
type JsonConfig struct {
	HTTPAddr        string         `json:"http_addr"`
	GRPCAddr        string         `json:"grpc_addr"`
	DatabaseDSN     string         `json:"database_dsn"`
	SigningKey      string         `json:"api_signing_key"`
	CosignerURL     string         `json:"cosigner_server"`
	CosignerTimeout timex.Duration `json:"cosigner_timeout"`
	PublicURL       string         `json:"public_url"`
	AllowedOrigins  []string       `json:"allowed_origins"`
	LogLevel        string         `json:"log_level"`
	MinSaltEntropy  float64        `json:"min_salt_entropy"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags, or from
// $DEGLET_CONFIG when neither is given. If no path is found, nothing is
// loaded. Fields absent from the file keep their current values. If the file
// cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags, then the environment
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SigningKey, c.SigningKey)
	setString(&config.CosignerURL, c.CosignerURL)
	setString(&config.PublicURL, c.PublicURL)
	setString(&config.LogLevel, c.LogLevel)
	if c.CosignerTimeout.Duration > 0 {
		config.CosignerTimeout = c.CosignerTimeout.Duration
	}
	if len(c.AllowedOrigins) > 0 {
		config.AllowedOrigins = c.AllowedOrigins
	}
	if c.MinSaltEntropy > 0 {
		config.MinSaltEntropy = c.MinSaltEntropy
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
