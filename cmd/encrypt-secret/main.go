// Command encrypt-secret encrypts an OAuth client secret for use in the
// server configuration file. The output (with its enc: prefix) replaces the
// plaintext ClientSecret value; the proxy decrypts it at startup with the
// same SECRETS_ENCRYPTION_KEY.
//
// Usage:
//
//	SECRETS_ENCRYPTION_KEY=passphrase encrypt-secret <client-secret>
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"dicomweb-oauth-proxy/internal/crypto"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: encrypt-secret <client-secret>")
		os.Exit(2)
	}

	key := os.Getenv("SECRETS_ENCRYPTION_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "SECRETS_ENCRYPTION_KEY must be set")
		os.Exit(1)
	}

	encryptor, err := crypto.NewSecretsEncryptor(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ciphertext, err := encryptor.Encrypt(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("enc:" + ciphertext)
}
