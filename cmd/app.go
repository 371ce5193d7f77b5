package cmd

import (
	"context"
	"fmt"

	"github.com/yawon3/pocali-backend/internal/backend/cdn"
	fsbackend "github.com/yawon3/pocali-backend/internal/backend/fs"
	"github.com/yawon3/pocali-backend/internal/backend/objectstore"
	"github.com/yawon3/pocali-backend/internal/backend/postgres"
	"github.com/yawon3/pocali-backend/internal/backend/sqlite"
	"github.com/yawon3/pocali-backend/internal/card"
	"github.com/yawon3/pocali-backend/internal/catalog"
	"github.com/yawon3/pocali-backend/internal/config"
	"github.com/yawon3/pocali-backend/internal/social"
)

// openStore opens the user/friend store selected by c.Database.
func openStore(ctx context.Context, c config.Config) (social.Store, error) {
	switch c.Database.Driver {
	case "postgres":
		return postgres.New(ctx, c.Database.DSN)
	case "sqlite":
		return sqlite.New(c.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
}

// openSource creates the image storage backend selected by c.Storage.
func openSource(c config.Config) (catalog.Source, error) {
	s := c.Storage
	switch s.Backend {
	case "fs":
		return fsbackend.New(s.ImagesDir, s.URLPrefix)
	case "objectstore":
		return objectstore.New(objectstore.Options{
			BaseURL: s.ObjectStore.BaseURL,
			Bucket:  s.ObjectStore.Bucket,
			Prefix:  s.ObjectStore.Prefix,
			Token:   s.ObjectStore.Token,
		})
	case "cdn":
		return cdn.New(cdn.Options{
			BaseURL:    s.CDN.BaseURL,
			CloudName:  s.CDN.CloudName,
			APIKey:     s.CDN.APIKey,
			APISecret:  s.CDN.APISecret,
			RootFolder: s.CDN.RootFolder,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", s.Backend)
	}
}

// newParser builds the filename parser, reading the substitution table from
// c.SubstitutionsFile when one is configured.
func newParser(c config.Config) (*card.Parser, error) {
	if c.SubstitutionsFile == "" {
		return card.NewParser(card.DefaultTable()), nil
	}
	table, err := card.LoadTable(c.SubstitutionsFile)
	if err != nil {
		return nil, err
	}
	return card.NewParser(table), nil
}

// openCatalog wires the configured storage backend and parser together.
func openCatalog(c config.Config) (*catalog.Catalog, error) {
	src, err := openSource(c)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	parser, err := newParser(c)
	if err != nil {
		return nil, fmt.Errorf("substitutions: %w", err)
	}
	return catalog.New(src, parser, catalog.Options{CacheTTL: c.CatalogCacheTTL}), nil
}
