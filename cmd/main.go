package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"golang.org/x/exp/slog"

	"wagerledger/internal/blockchain"
	"wagerledger/internal/config"
	"wagerledger/internal/logging"
	"wagerledger/internal/storage"
)

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"serve":   runServe,
	"init":    runInit,
	"append":  runAppend,
	"verify":  runVerify,
	"explore": runExplore,
	"export":  runExport,
	"audit":   runAudit,
}

type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Usage = usage
	flag.Parse()

	name := "serve"
	args := flag.Args()
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	run, ok := commands[name]
	if !ok {
		usage()
		os.Exit(2)
	}

	// 加载配置文件
	cfg, err := loadConfig(*configPath)
	if err != nil {
		pterm.Error.Printfln("Failed to load config: %v", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		pterm.Error.Printfln("Failed to set up logging: %v", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &app{cfg: cfg, logger: logger}, args); err != nil {
		logger.Error("command failed", "command", name, "error", err)
		stop()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: wagerledger [-config path] <command> [flags]

commands:
  serve     run the HTTP API (default)
  init      create the schema and the genesis block
  append    seal one transaction into a new block
  verify    validate the stored chain
  explore   print the chain as a table
  export    write the chain as json or yaml
  audit     fetch a remote node's chain and verify it offline
`)
}

// loadConfig falls back to the defaults only when the default file is absent.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && path == "configs/config.yaml" {
		return config.Default(), nil
	}
	return nil, err
}

// openChain 根据配置打开存储并初始化区块链
func (a *app) openChain() (*blockchain.Blockchain, storage.BlockStorage, error) {
	db := a.cfg.Database

	// 相对路径相对于当前工作目录
	dbPath := filepath.Clean(db.Path)
	if db.Driver == storage.DriverSQLite && !filepath.IsAbs(dbPath) {
		currentDir, err := os.Getwd()
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to get current directory")
		}
		dbPath = filepath.Join(currentDir, dbPath)
	}

	a.logger.Debug("opening store", "driver", db.Driver, "dsn", db.DSN)
	store, err := storage.Open(storage.Options{
		Driver:        db.Driver,
		Path:          dbPath,
		DSN:           db.DSN.Reveal(),
		MongoDatabase: db.MongoDatabase,
	}, a.logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize storage")
	}

	bc, err := blockchain.NewBlockchain(store,
		blockchain.WithDifficulty(a.cfg.Blockchain.Difficulty),
		blockchain.WithSealLimit(blockchain.SealLimit{
			MaxNonce: a.cfg.Blockchain.MaxNonce,
			Timeout:  a.cfg.Blockchain.SealTimeout,
		}),
		blockchain.WithLogger(a.logger))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return bc, store, nil
}
