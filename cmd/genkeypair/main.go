package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/signing"
)

type policyRules struct {
	Signing      []signingRule      `toml:"signing"`
	Verification []verificationRule `toml:"verification"`
}

type signingRule struct {
	Priority    int    `toml:"priority"`
	Context     string `toml:"context"`
	Algorithm   string `toml:"algorithm"`
	Encoding    string `toml:"encoding"`
	PrivateKey  string `toml:"privateKey"`
	PublicKey   string `toml:"publicKey"`
	Name        string `toml:"name,omitempty"`
	Description string `toml:"description,omitempty"`
}

type verificationRule struct {
	Priority  int    `toml:"priority"`
	Context   string `toml:"context"`
	Action    string `toml:"action"`
	Algorithm string `toml:"algorithm"`
	Encoding  string `toml:"encoding"`
	PublicKey string `toml:"publicKey"`
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		os.Exit(1)
	}

	err = writeKeyPair(os.Stdout, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key pair: %+v\n", err)
		os.Exit(1)
	}
}

// writeKeyPair generates a key pair and writes it as the policy rules that
// sign with it on one node and verify with it on another.
func writeKeyPair(writer io.Writer, cfg *configFlags) error {
	keyPair, err := signing.GenerateKeyPair(cfg.Algorithm)
	if err != nil {
		return err
	}
	privateKey, err := reencode(keyPair.PrivateKey, cfg.Encoding)
	if err != nil {
		return err
	}
	publicKey, err := reencode(keyPair.PublicKey, cfg.Encoding)
	if err != nil {
		return err
	}

	rules := policyRules{
		Signing: []signingRule{{
			Priority:    cfg.Priority,
			Context:     cfg.Context,
			Algorithm:   keyPair.Algorithm,
			Encoding:    cfg.Encoding,
			PrivateKey:  privateKey,
			PublicKey:   publicKey,
			Name:        cfg.Name,
			Description: cfg.Description,
		}},
		Verification: []verificationRule{{
			Priority:  cfg.Priority,
			Context:   cfg.Context,
			Action:    signing.VerifyAll.String(),
			Algorithm: keyPair.Algorithm,
			Encoding:  cfg.Encoding,
			PublicKey: publicKey,
		}},
	}
	return toml.NewEncoder(writer).Encode(rules)
}

// reencode converts base64 key material to encoding.
func reencode(key string, encoding string) (string, error) {
	if encoding == signing.EncodingBase64 {
		return key, nil
	}
	data, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", errors.Wrap(err, "invalid generated key")
	}
	return hex.EncodeToString(data), nil
}
