package storage

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Options selects and configures a backend.
type Options struct {
	Driver        string
	Path          string
	DSN           string
	MongoDatabase string
}

// Open 根据驱动名创建存储实现
func Open(opts Options, logger *slog.Logger) (BlockStorage, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLiteStore(opts.Path, logger)
	case DriverPostgres:
		return NewPostgresStore(opts.DSN, logger)
	case DriverMongo:
		db, err := InitMongoConn(opts.DSN, opts.MongoDatabase)
		if err != nil {
			return nil, err
		}
		store, err := NewMongoStore(db, logger)
		if err != nil {
			db.Client().Disconnect(context.Background())
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown storage driver %q", opts.Driver)
	}
}
