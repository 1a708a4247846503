package main

import (
	"github.com/andrewtheguy/securesend/internal/config"
	"github.com/andrewtheguy/securesend/internal/filetransfer"
)

// loadConfig loads a config file if one is given, otherwise starts from
// the engine defaults, then applies any CLI-level overrides.
func loadConfig(path, endpointOverride string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if endpointOverride != "" {
		cfg.Rendezvous.Endpoints = []string{endpointOverride}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func formatFileSize(n int64) string {
	return filetransfer.FormatSize(n)
}
