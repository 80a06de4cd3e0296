// Command hash-control-token produces the argon2id hash of a control
// token for CONTROL_TOKEN_HASH.
//
// Usage:
//
//	go run ./scripts -token my-secret
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/domainpulse/domainpulse-agent/internal/auth"
)

func main() {
	var (
		token    = flag.String("token", "", "Control token to hash. Generated when empty.")
		exported = flag.Bool("export", false, "Print as shell export lines")
	)
	flag.Parse()

	plain := *token
	if plain == "" {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintln(os.Stderr, "generate token:", err)
			os.Exit(1)
		}
		plain = base64.RawURLEncoding.EncodeToString(buf)
	}

	hash, err := auth.HashToken(plain)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash token:", err)
		os.Exit(1)
	}

	if *exported {
		fmt.Printf("export CONTROL_TOKEN=%s\n", plain)
		fmt.Printf("export CONTROL_TOKEN_HASH='%s'\n", hash)
		return
	}

	fmt.Println("token:", plain)
	fmt.Println("hash: ", hash)
}
