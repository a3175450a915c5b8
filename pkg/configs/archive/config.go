// Package archive loads archive backend configuration.
//
// Config example:
//
//	kind: local
//	local:
//	  root: /var/lib/neuropipe/archive
//
// or, for a remote archive service:
//
//	kind: remote
//	remote:
//	  endpoint: https://archive.example.org/api
//	  token: <jwt>
//	  cacheRoot: /var/cache/neuropipe
package archive

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("archive config is invalid")

type Kind string

const (
	Local  Kind = "local"
	Remote Kind = "remote"
)

type Config struct {
	Kind   Kind          `yaml:"kind"`
	Local  *LocalConfig  `yaml:"local,omitempty"`
	Remote *RemoteConfig `yaml:"remote,omitempty"`
}

type LocalConfig struct {
	// Root is the directory projects are archived under.
	Root string `yaml:"root"`
}

type RemoteConfig struct {
	// Endpoint is the base URL of the archive service api.
	Endpoint string `yaml:"endpoint"`

	// Token is a bearer token passed on each request. Optional.
	Token string `yaml:"token"`

	// CacheRoot is where fetched datasets are materialized.
	CacheRoot string `yaml:"cacheRoot"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	raw := struct {
		Kind   Kind          `yaml:"kind"`
		Local  *LocalConfig  `yaml:"local,omitempty"`
		Remote *RemoteConfig `yaml:"remote,omitempty"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	switch raw.Kind {
	case Local:
		if raw.Local == nil || raw.Local.Root == "" {
			return fmt.Errorf("%w: kind local needs local.root", ErrInvalidConfig)
		}
	case Remote:
		if raw.Remote == nil || raw.Remote.Endpoint == "" {
			return fmt.Errorf("%w: kind remote needs remote.endpoint", ErrInvalidConfig)
		}
		u, err := url.Parse(raw.Remote.Endpoint)
		if err != nil {
			return fmt.Errorf("%w: remote.endpoint: %s", ErrInvalidConfig, err)
		}
		if !u.IsAbs() || u.Hostname() == "" {
			return fmt.Errorf("%w: remote.endpoint is not an absolute URL: %s", ErrInvalidConfig, raw.Remote.Endpoint)
		}
	default:
		return fmt.Errorf("%w: unknown kind '%s'", ErrInvalidConfig, raw.Kind)
	}

	c.Kind = raw.Kind
	c.Local = raw.Local
	c.Remote = raw.Remote
	return nil
}

func LoadArchiveConfig(filepath string) (*Config, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(conf []byte) (*Config, error) {
	var out Config
	err := yaml.Unmarshal(conf, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
