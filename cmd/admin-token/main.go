// Command admin-token mints a bearer token for the channel admin API using
// ADMIN_JWT_SECRET from the environment or .env.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"stream-bridge/internal/auth"
	"stream-bridge/internal/config"
)

func main() {
	username := flag.String("user", "admin", "username embedded in the token")
	ttl := flag.Duration("ttl", auth.DefaultTokenTTL, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	if !cfg.AdminEnabled() {
		fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET is not set")
		os.Exit(1)
	}

	a, err := auth.New(cfg.AdminJWTSecret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid secret: %v\n", err)
		os.Exit(1)
	}

	token, err := a.GenerateJWT(*username, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(*ttl).UTC().Format(time.RFC3339))
}
