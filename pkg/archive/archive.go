// Package archive opens the configured storage backend.
package archive

import (
	"fmt"

	"github.com/nialab/neuropipe/pkg/archive/local"
	"github.com/nialab/neuropipe/pkg/archive/remote"
	configs "github.com/nialab/neuropipe/pkg/configs/archive"
	"github.com/nialab/neuropipe/pkg/domain"
)

// Open builds the archive backend a config names.
func Open(cfg *configs.Config) (domain.Archive, error) {
	switch cfg.Kind {
	case configs.Local:
		return local.New(cfg.Local.Root)
	case configs.Remote:
		opts := []remote.Option{}
		if cfg.Remote.Token != "" {
			opts = append(opts, remote.WithToken(cfg.Remote.Token))
		}
		return remote.New(cfg.Remote.Endpoint, cfg.Remote.CacheRoot, opts...)
	}
	return nil, fmt.Errorf("unknown archive kind '%s'", cfg.Kind)
}
