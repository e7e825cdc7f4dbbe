package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/deglet/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-k string   server signing key, hex Ed25519 seed
//	-x string   cosigner base URL
//	-t int      cosigner call timeout, seconds
//	-u string   public base URL
//	-o string   allowed CORS origins, comma separated
//	-l string   log level
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - The cosigner timeout is accepted as an integer number of seconds.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-k", "-x", "-t", "-u", "-o", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to serve HTTP on")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "address and port to serve gRPC health on")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SigningKey, "k", config.SigningKey, "signing key (hex seed)")
	fs.StringVar(&config.CosignerURL, "x", config.CosignerURL, "cosigner base URL")

	cosignerTimeout := fs.Int("t", int(config.CosignerTimeout.Seconds()), "cosigner timeout (in seconds)")

	fs.StringVar(&config.PublicURL, "u", config.PublicURL, "public base URL")
	origins := fs.String("o", strings.Join(config.AllowedOrigins, ","), "allowed CORS origins")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.CosignerTimeout = time.Duration(*cosignerTimeout) * time.Second
	config.AllowedOrigins = flagx.SplitList(*origins)
}
