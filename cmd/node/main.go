package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/chain"
	"github.com/uhyunpark/hyperswap/pkg/exchange"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

func main() {
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Node)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
}

func newLogger(node params.Node) (*zap.Logger, error) {
	if node.LogFile == "" {
		return util.NewLogger(node.Verbose)
	}
	return util.NewLoggerWithFile(node.LogFile, node.Verbose)
}

func run(cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	// ---- Chain storage: blocks, committed height, WAL ----
	chainDB, wal, err := openChainStorage(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	defer chainDB.Close()
	if c, ok := wal.(io.Closer); ok {
		defer c.Close()
	}
	blocks := storage.NewBlockStore(chainDB)

	tip, _, err := blocks.GetCommitted()
	if err != nil {
		return err
	}

	// ---- App: exchange state is rebuilt from genesis by replaying the chain ----
	stateDB, err := storage.OpenInMemory()
	if err != nil {
		return err
	}
	defer stateDB.Close()

	feederCfg, txgen, err := feederConfig(cfg.Node.TxGen)
	if err != nil {
		return err
	}
	genesis := genesisFrom(cfg.Genesis)
	if txgen {
		dex.FundFeederAccounts(&genesis, dex.FeederAccounts(feederCfg.NumAccounts, feederCfg.Seed), dex.FeederFunding)
	}
	bank, tokens, err := dex.BuildGenesis(genesis)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := dex.NewApp(stateDB, dex.Config{
		ChainID: cfg.Exchange.ChainID,
		Exchange: exchange.Config{
			Address:    cfg.Exchange.Address,
			FeeAccount: cfg.Exchange.FeeAccount,
			FeePercent: cfg.Exchange.FeePercent,
		},
		MaxPending: cfg.Node.MaxPending,
	}, bank, tokens, logger, dex.NewMetrics(reg))
	if err != nil {
		return err
	}
	app.Exchange().Metrics = exchange.NewMetrics(reg)

	start := time.Now()
	if err := app.Replay(blocks, tip); err != nil {
		return err
	}
	if tip > 0 {
		sugar.Infow("state_restored", "height", tip, "took", time.Since(start).Round(time.Millisecond))
	}

	// ---- Sequencer ----
	seq := chain.NewSequencer(&abci.Bridge{App: app}, util.RealClock{})
	seq.Store = blocks
	seq.WAL = wal
	seq.MinBlockTime = cfg.Node.MinBlockTime
	seq.Logger = sugar.Named("sequencer")
	seq.VerboseLogging = cfg.Node.Verbose
	if err := seq.Resume(); err != nil {
		return err
	}

	sugar.Infow("node_starting",
		"chain_id", cfg.Exchange.ChainID,
		"exchange", cfg.Exchange.Address.Hex(),
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"fee_percent", cfg.Exchange.FeePercent,
		"tokens", tokens.Count(),
		"data_dir", cfg.Node.DataDir,
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Options{
		Logger:         logger,
		Gatherer:       reg,
		AllowedOrigins: cfg.Node.AllowedOrigins,
	})
	apiErr := make(chan error, 1)
	go func() { apiErr <- apiServer.Start(cfg.Node.APIAddr) }()

	if txgen {
		cancelFeeder, err := dex.StartTxFeeder(ctx, app, feederCfg, logger)
		if err != nil {
			return err
		}
		defer cancelFeeder()
		sugar.Infow("txgen_enabled", "mode", cfg.Node.TxGen, "accounts", feederCfg.NumAccounts)
	}

	seqErr := make(chan error, 1)
	go func() { seqErr <- seq.Run(ctx) }()

	seqDone := false
	select {
	case <-ctx.Done():
		err = nil
	case err = <-apiErr:
		if err == nil {
			err = errors.New("api server stopped")
		}
	case err = <-seqErr:
		seqDone = true
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := apiServer.Shutdown(shutdownCtx); serr != nil {
		sugar.Warnw("api_shutdown_failed", "err", serr)
	}
	if !seqDone {
		// Wait for the block in flight so the store is closed between blocks.
		if serr := <-seqErr; err == nil && serr != nil && !errors.Is(serr, context.Canceled) {
			err = serr
		}
	}

	height, appHash := app.Height()
	sugar.Infow("node_stopped", "height", height, "apphash", "0x"+appHash.String())
	return err
}

// openChainStorage opens the on-disk chain database and WAL under dataDir,
// or an in-memory database with no WAL when dataDir is empty.
func openChainStorage(dataDir string) (*storage.DB, chain.WAL, error) {
	if dataDir == "" {
		db, err := storage.OpenInMemory()
		return db, storage.NewNopWAL(), err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, err
	}
	db, err := storage.Open(filepath.Join(dataDir, "chain"))
	if err != nil {
		return nil, nil, err
	}
	wal, err := storage.NewFileWAL(filepath.Join(dataDir, "wal.log"))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, wal, nil
}

func feederConfig(mode string) (dex.FeederConfig, bool, error) {
	switch mode {
	case "":
		return dex.FeederConfig{}, false, nil
	case "default":
		return dex.DefaultFeederConfig(), true, nil
	case "high":
		return dex.HighLoadConfig(), true, nil
	}
	return dex.FeederConfig{}, false, fmt.Errorf("unknown TXGEN_MODE %q", mode)
}

func genesisFrom(g params.Genesis) dex.Genesis {
	out := dex.Genesis{Native: g.Native}
	for _, t := range g.Tokens {
		out.Tokens = append(out.Tokens, dex.TokenGenesis{
			Address:  t.Address,
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			Balances: t.Balances,
		})
	}
	return out
}
