package main

import (
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/signing"
)

type configFlags struct {
	Algorithm   string `short:"a" long:"algorithm" description:"Curve of the key pair {secp256r1, secp384r1, secp521r1, secp256k1}"`
	Encoding    string `short:"e" long:"encoding" description:"Encoding of the key material {base64, hex}"`
	Context     string `short:"c" long:"context" description:"Signing context the generated rules apply to, a context URL or a prefix ending in *"`
	Name        string `long:"name" description:"Name of the signer recorded on signatures"`
	Description string `long:"description" description:"Description of the signer recorded on signatures"`
	Priority    int    `long:"priority" description:"Priority of the generated rules"`
}

func parseConfig() (*configFlags, error) {
	cfg := &configFlags{
		Algorithm: signing.DefaultAlgorithm,
		Encoding:  signing.EncodingBase64,
		Context:   "*",
	}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	_, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	if cfg.Encoding != signing.EncodingBase64 && cfg.Encoding != signing.EncodingHex {
		return nil, errors.Errorf("unsupported encoding %q", cfg.Encoding)
	}
	cfg.Algorithm = signing.NormalizeAlgorithm(cfg.Algorithm)
	return cfg, nil
}
