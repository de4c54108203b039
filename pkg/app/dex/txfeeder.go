package dex

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// FeederConfig controls devnet transaction generation.
type FeederConfig struct {
	BatchSize   int           // txs per batch
	Interval    time.Duration // how often to push a batch
	NumAccounts int           // simulated traders
	Seed        int64         // derives trader keys and the action mix
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond, // ~100 tx/sec
		NumAccounts: 50,
		Seed:        1,
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   100,
		Interval:    100 * time.Millisecond, // ~1000 tx/sec
		NumAccounts: 200,
		Seed:        1,
	}
}

// FeederLot is the unit amount traders deposit, order and withdraw in.
var FeederLot = uint256.NewInt(1e15)

// FeederFunding is the genesis balance of each simulated trader, per asset.
var FeederFunding = new(uint256.Int).Mul(FeederLot, uint256.NewInt(1_000_000))

// StartTxFeeder pushes generated transactions into app's mempool until ctx
// is done or the returned cancel func is called. The traders must have been
// funded at genesis with FundFeederAccounts.
func StartTxFeeder(ctx context.Context, app *App, cfg FeederConfig, logger *zap.Logger) (context.CancelFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Named("txfeeder").Sugar()

	accounts := FeederAccounts(cfg.NumAccounts, cfg.Seed)
	var tokens []common.Address
	for _, t := range app.Tokens().List() {
		tokens = append(tokens, t.Address)
	}
	gen := NewTxGenerator(accounts, tokens, app.Exchange().Address(), app.Verifier().Signer(), cfg.Seed, FeederLot)

	// Generated nonces start above whatever the traders already used.
	for _, s := range accounts {
		n, err := app.Nonce(s.Address())
		if err != nil {
			return nil, err
		}
		gen.nonces[s.Address()] = n
	}

	feedCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		lastLog := start
		total, rejected := 0, 0
		sugar.Infow("txfeeder_started", "batch", cfg.BatchSize, "interval", cfg.Interval, "accounts", cfg.NumAccounts)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				sugar.Infow("txfeeder_stopped", "total", total, "rejected", rejected,
					"tx_per_sec", float64(total)/elapsed.Seconds())
				return
			case <-ticker.C:
				batch, err := gen.GenerateBatch(cfg.BatchSize)
				if err != nil {
					sugar.Errorw("txfeeder_generate_failed", "err", err)
				}
				for _, tx := range batch {
					if _, err := app.PushTx(tx); err != nil {
						rejected++
					}
				}
				total += len(batch)

				if time.Since(lastLog) >= 10*time.Second {
					lastLog = time.Now()
					sugar.Infow("txfeeder_stats", "total", total, "rejected", rejected,
						"tx_per_sec", float64(total)/time.Since(start).Seconds())
				}
			}
		}
	}()
	return cancel, nil
}
