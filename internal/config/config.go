// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads gotsend settings from a YAML file, a .env file
// and the environment, in increasing order of precedence.
package config

import (
	"os"
	"time"

	"github.com/matta/gotsend/internal/dispatch"
	"github.com/matta/gotsend/internal/homedir"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDatabase        = "~/.gotsend.db"
	DefaultOwner           = "default"
	DefaultPerMessageDelay = time.Second
)

type Config struct {
	// Path to the SQLite database.  A leading "~/" is expanded.
	Database string `yaml:"database"`

	// The user batches are sent for.
	Owner string `yaml:"owner"`

	Google GoogleConfig `yaml:"google"`

	// Base64 encoded 32 byte key sealing stored OAuth tokens.
	// Empty stores them in the clear.
	TokenKey string `yaml:"token_key"`

	// Directory delivered messages are copied to.  Empty
	// disables archiving.
	Archive string `yaml:"archive"`

	Send SendConfig `yaml:"send"`
}

// GoogleConfig identifies the OAuth client sender accounts were
// connected with.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type SendConfig struct {
	QuotaPerIdentity         int           `yaml:"quota_per_identity"`
	MaxConcurrentPerIdentity int           `yaml:"max_concurrent_per_identity"`
	PerMessageDelay          time.Duration `yaml:"per_message_delay"`
	Deadline                 time.Duration `yaml:"deadline"`
}

// Options returns the batch options s describes.
func (s SendConfig) Options() dispatch.Options {
	return dispatch.Options{
		QuotaPerIdentity:         s.QuotaPerIdentity,
		MaxConcurrentPerIdentity: s.MaxConcurrentPerIdentity,
		PerMessageDelay:          s.PerMessageDelay,
		Deadline:                 s.Deadline,
	}
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: DefaultDatabase,
		Owner:    DefaultOwner,
		Send: SendConfig{
			QuotaPerIdentity:         dispatch.DefaultQuotaPerIdentity,
			MaxConcurrentPerIdentity: dispatch.DefaultMaxConcurrentPerIdentity,
			PerMessageDelay:          DefaultPerMessageDelay,
		},
	}
}

// Load reads the YAML file at path over the defaults.  An empty path
// reads nothing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(homedir.Expand(path))
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	cfg.Database = homedir.Expand(cfg.Database)
	cfg.Archive = homedir.Expand(cfg.Archive)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv is Load followed by environment overrides.  envFiles
// (default ".env") are loaded into the environment first if they
// exist; variables already set win.
func LoadFromEnv(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "loading %s", f)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("GOTSEND_TOKEN_KEY"); v != "" {
		cfg.TokenKey = v
	}
	if v := os.Getenv("GOTSEND_DB"); v != "" {
		cfg.Database = homedir.Expand(v)
	}
	if v := os.Getenv("GOTSEND_OWNER"); v != "" {
		cfg.Owner = v
	}
	if v := os.Getenv("GOTSEND_ARCHIVE"); v != "" {
		cfg.Archive = homedir.Expand(v)
	}
	return cfg, nil
}

// Validate rejects settings no batch can run with.
func (c *Config) Validate() error {
	switch {
	case c.Database == "":
		return errors.New("config: database not set")
	case c.Owner == "":
		return errors.New("config: owner not set")
	case c.Send.QuotaPerIdentity < 0:
		return errors.New("config: send.quota_per_identity is negative")
	case c.Send.MaxConcurrentPerIdentity < 0:
		return errors.New("config: send.max_concurrent_per_identity is negative")
	case c.Send.PerMessageDelay < 0:
		return errors.New("config: send.per_message_delay is negative")
	case c.Send.Deadline < 0:
		return errors.New("config: send.deadline is negative")
	}
	return nil
}
