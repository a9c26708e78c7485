// Command token mints a JWT for an API client, for use with AUTH_REQUIRED=true.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/suPer8Hu/lovely-prompts/internal/auth"
	"github.com/suPer8Hu/lovely-prompts/internal/config"
)

func main() {
	client := flag.String("client", "", "client name stored as the token subject")
	ttl := flag.Duration("ttl", 30*24*time.Hour, "token lifetime, 0 for no expiry")
	flag.Parse()

	if *client == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	tok, err := auth.SignJWT(*client, cfg.JWTSecret, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(tok)
}
