package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/deglet/internal/client"
	"github.com/dmitrijs2005/deglet/internal/client/cli"
	"github.com/dmitrijs2005/deglet/internal/client/store"
	"github.com/dmitrijs2005/deglet/internal/common"
)

func main() {
	server := os.Getenv("DEGLET_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}

	fs := flag.NewFlagSet("deglet", flag.ExitOnError)
	fs.StringVar(&server, "s", server, "server base URL")
	dbPath := fs.String("db", "", "local cache file (default ~/.deglet/wallets.db)")
	serverKID := fs.String("kid", "", "expected server key id")
	iterations := fs.Int("i", common.MinIterCount, "PBKDF2 iterations for new accounts")
	_ = fs.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := *dbPath
	if path == "" {
		p, err := store.DefaultPath()
		if err != nil {
			log.Fatalf("%v", err)
		}
		path = p
	}

	cache, err := store.Open(ctx, path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer cache.Close()

	opts := []client.Option{client.WithStore(cache)}
	if *serverKID != "" {
		opts = append(opts, client.WithServerKey(*serverKID))
	}

	app := cli.NewApp(client.New(server, opts...), os.Stdout, *iterations)
	if err := app.Run(ctx, fs.Args()); err != nil {
		log.Printf("%v", err)
		_ = cache.Close()
		os.Exit(1)
	}
}
