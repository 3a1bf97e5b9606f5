package storage

import (
	"github.com/sirupsen/logrus"

	"github.com/rdscope/rdscope-go/internal/config"
	rderrors "github.com/rdscope/rdscope-go/internal/errors"
)

// NewStore creates the audit store selected by configuration.
func NewStore(cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.Storage.Type {
	case "sqlite", "":
		return NewSQLiteStore(cfg.Storage.LocalPath, logger)
	case "postgres":
		return NewPostgresStore(cfg.Storage.PostgresDSN, logger)
	default:
		return nil, rderrors.ConfigErrorf("unknown storage type %q", cfg.Storage.Type)
	}
}
