// Command quotactl inspects and resets per-client generation quota in the
// redis store. Admin tooling only; the serving path never resets counters.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"server/internal/infra"
	"server/internal/quota"
)

func main() {
	_ = godotenv.Load()

	clientID := flag.String("client", "", "client id to operate on")
	reset := flag.Bool("reset", false, "reset the client's usage counter")
	flag.Parse()

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "usage: quotactl -client <id> [-reset]")
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.RedisAddr == "" {
		fmt.Fprintln(os.Stderr, "REDIS_ADDR is required")
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "redis:", err)
		os.Exit(1)
	}
	defer client.Close()

	store := quota.NewRedisStore(client)
	if *reset {
		if err := store.Reset(ctx, *clientID); err != nil {
			fmt.Fprintln(os.Stderr, "reset:", err)
			os.Exit(1)
		}
		fmt.Printf("quota reset for %s\n", *clientID)
		return
	}

	used, err := store.Used(ctx, *clientID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	fmt.Printf("client=%s used=%d limit=%d\n", *clientID, used, cfg.ClientFreeLimit)
}
