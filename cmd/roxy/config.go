package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// cliConfig holds the raw flag values parsed by cobra before merging with an
// optional YAML file (§6 External Interfaces: config loading is an external
// collaborator, demonstrated here the way CirtusX-ctrl-ai-v1 and the
// teacher's cmd/go-mitmproxy load theirs).
type cliConfig struct {
	configFile string

	addr               string
	h3Addr             string
	webAddr            string
	caPath             string
	scriptPath         string
	upstream           string
	allowedHosts       []string
	ignoredHosts       []string
	insecureSkipVerify bool
	debug              int
}

// rootConfig is the merged, effective configuration: YAML file values first,
// then any flag explicitly set on the command line overrides the
// corresponding field.
type rootConfig struct {
	Addr               string   `yaml:"addr"`
	H3Addr             string   `yaml:"h3Addr"`
	WebAddr            string   `yaml:"webAddr"`
	CAPath             string   `yaml:"caPath"`
	ScriptPath         string   `yaml:"scriptPath"`
	Upstream           string   `yaml:"upstream"`
	AllowedHosts       []string `yaml:"allowedHosts"`
	IgnoredHosts       []string `yaml:"ignoredHosts"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
	Debug              int      `yaml:"debug"`
}

func loadConfig(flags *cliConfig) (*rootConfig, error) {
	cfg := &rootConfig{
		Addr:    ":9080",
		WebAddr: ":9081",
	}

	if flags.configFile != "" {
		data, err := os.ReadFile(flags.configFile)
		if err != nil {
			return nil, fmt.Errorf("roxy: read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("roxy: parse config file: %w", err)
		}
	}

	if flags.addr != "" {
		cfg.Addr = flags.addr
	}
	if flags.h3Addr != "" {
		cfg.H3Addr = flags.h3Addr
	}
	if flags.webAddr != "" {
		cfg.WebAddr = flags.webAddr
	}
	if flags.caPath != "" {
		cfg.CAPath = flags.caPath
	}
	if flags.scriptPath != "" {
		cfg.ScriptPath = flags.scriptPath
	}
	if flags.upstream != "" {
		cfg.Upstream = flags.upstream
	}
	if len(flags.allowedHosts) > 0 {
		cfg.AllowedHosts = flags.allowedHosts
	}
	if len(flags.ignoredHosts) > 0 {
		cfg.IgnoredHosts = flags.ignoredHosts
	}
	if flags.insecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	if flags.debug > 0 {
		cfg.Debug = flags.debug
	}

	return cfg, nil
}
