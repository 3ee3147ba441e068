// Command seal-secret encrypts a secret for use in configuration.
//
// It reads the secret from stdin and prints its "enc:<base64>" form, which
// config.Load decrypts at startup with the same ENCRYPTION_KEY.
//
// Usage:
//
//	export ENCRYPTION_KEY="$(openssl rand -base64 32)"
//	printf '%s' "$TWITCH_CLIENT_SECRET" | seal-secret
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/onnwee/livetally/crypto"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	secret, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && secret == "" {
		slog.Error("no secret on stdin", slog.Any("error", err))
		os.Exit(1)
	}
	sealed, err := crypto.Seal(enc, strings.TrimRight(secret, "\r\n"))
	if err != nil {
		slog.Error("seal failed", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Println(sealed)
}
