package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"

	"wagerledger/internal/blockchain"
	"wagerledger/internal/client"
	"wagerledger/internal/network"
	"wagerledger/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, a *app, args []string) error {
	bc, store, err := a.openChain()
	if err != nil {
		return err
	}
	defer store.Close()

	if _, _, err := bc.EnsureGenesis(ctx); err != nil {
		return err
	}
	a.logger.Info("blockchain initialized", "difficulty", bc.Difficulty())

	server := network.NewServer(bc, a.cfg.Server, a.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runInit(ctx context.Context, a *app, args []string) error {
	bc, store, err := a.openChain()
	if err != nil {
		return err
	}
	defer store.Close()

	genesis, created, err := bc.EnsureGenesis(ctx)
	if err != nil {
		return err
	}
	if created {
		pterm.Success.Printfln("Created genesis block %s", genesis.Hash)
	} else {
		pterm.Info.Printfln("Chain already initialized, head is block %d", genesis.Index)
	}
	return nil
}

func runAppend(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("append", flag.ContinueOnError)
	txType := fs.String("type", "", "transaction type, e.g. bet_placement")
	user := fs.String("user", "", "user id")
	bet := fs.String("bet", "", "bet id")
	data := fs.String("data", "{}", "JSON payload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := parseOptionalID("user", *user)
	if err != nil {
		return err
	}
	betID, err := parseOptionalID("bet", *bet)
	if err != nil {
		return err
	}
	if !json.Valid([]byte(*data)) {
		return errors.New("-data must be valid JSON")
	}

	bc, store, err := a.openChain()
	if err != nil {
		return err
	}
	defer store.Close()

	spinner, _ := pterm.DefaultSpinner.Start("Sealing block")
	block, err := bc.AddTransaction(ctx, *txType, userID, betID, json.RawMessage(*data))
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("Sealed block " + strconv.FormatInt(block.Index, 10) + " with nonce " + strconv.FormatInt(block.Nonce, 10))
	return printJSON(os.Stdout, blockchain.ExportBlock(block))
}

func parseOptionalID(name, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid -%s", name)
	}
	return &v, nil
}

func runVerify(ctx context.Context, a *app, args []string) error {
	bc, store, err := a.openChain()
	if err != nil {
		return err
	}
	defer store.Close()

	return reportVerification(bc.Verify(ctx))
}

// reportVerification prints the outcome; a broken chain is returned as an error so
// the process exits non-zero.
func reportVerification(err error) error {
	var chainErr *blockchain.ChainError
	switch {
	case err == nil:
		pterm.Success.Println("Chain is valid")
		return nil
	case errors.As(err, &chainErr):
		pterm.Error.Printfln("Chain is invalid at block %d: %s mismatch", chainErr.Index, chainErr.Field)
		pterm.DefaultTable.WithData(pterm.TableData{
			{"expected", chainErr.Expected},
			{"actual", chainErr.Actual},
		}).Render()
		return err
	default:
		return err
	}
}

func runExplore(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("explore", flag.ContinueOnError)
	desc := fs.Bool("desc", false, "newest block first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bc, store, err := a.openChain()
	if err != nil {
		return err
	}
	defer store.Close()

	order := storage.Ascending
	if *desc {
		order = storage.Descending
	}
	blocks, err := bc.Blocks(ctx, order)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		pterm.Info.Println("Chain is empty, run init first")
		return nil
	}

	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(blockTable(blocks)).Render()
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "json", "json or yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format != "json" && *format != "yaml" {
		return errors.Errorf("unknown export format %q", *format)
	}

	bc, store, err := a.openChain()
	if err != nil {
		return err
	}
	defer store.Close()

	export, err := bc.Export(ctx)
	if err != nil {
		return err
	}
	if *format == "yaml" {
		return printYAML(os.Stdout, export)
	}
	return printJSON(os.Stdout, export)
}

func runAudit(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	remote := fs.String("remote", "", "base URL of the node to audit")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *remote == "" {
		return errors.New("-remote is required")
	}

	export, err := client.New(*remote, *timeout).Chain(ctx)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Fetched %d blocks from %s (node reports valid=%t)", len(export.Blockchain), *remote, export.Valid)

	err = blockchain.VerifyExport(export)
	if err == nil && !export.Valid {
		pterm.Warning.Println("Node reports its chain as invalid but the export verifies")
	}
	return reportVerification(err)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
