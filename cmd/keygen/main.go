package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"log"
	"os"
	"path/filepath"
)

func main() {
	dir := flag.String("out", "keys", "output directory")
	force := flag.Bool("force", false, "overwrite existing keys")
	flag.Parse()

	privPath := filepath.Join(*dir, "license_private.pem")
	pubPath := filepath.Join(*dir, "license_public.pem")
	if !*force {
		if _, err := os.Stat(privPath); err == nil {
			log.Fatalf("%s exists; pass -force to overwrite", privPath)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		log.Fatalf("marshal private key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		log.Fatalf("marshal public key: %v", err)
	}

	if err := os.MkdirAll(*dir, 0o700); err != nil {
		log.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		log.Fatalf("write private key: %v", err)
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		log.Fatalf("write public key: %v", err)
	}
	log.Printf("wrote %s and %s", privPath, pubPath)
}
