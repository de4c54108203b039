package params

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

// Exchange is fixed at the first start on a data directory. Restarting with
// different values fails.
type Exchange struct {
	ChainID    int64
	Address    common.Address // custody account
	FeeAccount common.Address
	FeePercent uint64
}

type Node struct {
	DataDir string // empty keeps chain data in memory
	APIAddr string
	LogFile string
	Verbose bool

	// MinBlockTime throttles block production so an idle devnet does not
	// seal a stream of empty blocks.
	MinBlockTime time.Duration

	MaxPending     int // mempool bound, 0 = unbounded
	AllowedOrigins []string

	// TxGen selects the devnet load generator: "" (off), "default" or "high".
	// It also funds the generated traders at genesis, so keep it fixed for
	// the lifetime of a data directory.
	TxGen string
}

type TokenAlloc struct {
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8
	Balances map[common.Address]*uint256.Int
}

type Genesis struct {
	Native map[common.Address]*uint256.Int
	Tokens []TokenAlloc // sorted by symbol
}

type Config struct {
	Exchange Exchange
	Node     Node
	Genesis  Genesis
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			ChainID:    1337,
			Address:    common.HexToAddress("0x000000000000000000000000000000000000e0c0"),
			FeeAccount: common.HexToAddress("0x000000000000000000000000000000000000fee0"),
			FeePercent: 1,
		},
		Node: Node{
			DataDir:      "data",
			APIAddr:      ":8080",
			LogFile:      "data/node.log",
			MinBlockTime: 200 * time.Millisecond, // devnet default: prevent log spam
		},
		Genesis: Genesis{Native: map[common.Address]*uint256.Int{}},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
//
// Genesis allocations:
//
//	GENESIS_NATIVE=0xHolder:amount,0xHolder:amount
//	TOKEN_<SYMBOL>=0xAddress:decimals[:name]
//	TOKEN_<SYMBOL>_BALANCES=0xHolder:amount,...
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var err error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	parse := func(key string, fn func(string) error) {
		if err != nil {
			return
		}
		if v := os.Getenv(key); v != "" {
			if perr := fn(v); perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
			}
		}
	}

	parse("CHAIN_ID", func(v string) (e error) {
		cfg.Exchange.ChainID, e = strconv.ParseInt(v, 10, 64)
		return e
	})
	parse("EXCHANGE_ADDRESS", func(v string) (e error) {
		cfg.Exchange.Address, e = parseAddress(v)
		return e
	})
	parse("FEE_ACCOUNT", func(v string) (e error) {
		cfg.Exchange.FeeAccount, e = parseAddress(v)
		return e
	})
	parse("FEE_PERCENT", func(v string) (e error) {
		cfg.Exchange.FeePercent, e = strconv.ParseUint(v, 10, 64)
		return e
	})

	setString("DATA_DIR", &cfg.Node.DataDir)
	setString("API_ADDR", &cfg.Node.APIAddr)
	setString("LOG_FILE", &cfg.Node.LogFile)
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"
	parse("NODE_MIN_BLOCK_TIME_MS", func(v string) error {
		ms, e := strconv.Atoi(v)
		cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		return e
	})
	parse("MAX_PENDING", func(v string) (e error) {
		cfg.Node.MaxPending, e = strconv.Atoi(v)
		return e
	})
	parse("CORS_ORIGINS", func(v string) error {
		cfg.Node.AllowedOrigins = splitList(v)
		return nil
	})

	if os.Getenv("ENABLE_TXGEN") == "true" {
		cfg.Node.TxGen = "default"
		if mode := os.Getenv("TXGEN_MODE"); mode != "" {
			cfg.Node.TxGen = mode
		}
	}

	parse("GENESIS_NATIVE", func(v string) (e error) {
		cfg.Genesis.Native, e = parseAllocations(v)
		return e
	})
	if err != nil {
		return Config{}, err
	}

	tokens, err := tokensFromEnv()
	if err != nil {
		return Config{}, err
	}
	cfg.Genesis.Tokens = tokens
	return cfg, nil
}

func tokensFromEnv() ([]TokenAlloc, error) {
	var out []TokenAlloc
	for _, kv := range os.Environ() {
		key, val, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, "TOKEN_") || strings.HasSuffix(key, "_BALANCES") {
			continue
		}
		symbol := strings.TrimPrefix(key, "TOKEN_")
		if symbol == "" {
			continue
		}

		parts := strings.SplitN(val, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%s: want address:decimals[:name], got %q", key, val)
		}
		addr, err := parseAddress(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		decimals, err := strconv.ParseUint(parts[1], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%s: decimals: %w", key, err)
		}
		name := symbol
		if len(parts) == 3 && parts[2] != "" {
			name = parts[2]
		}

		balances := map[common.Address]*uint256.Int{}
		if v := os.Getenv(key + "_BALANCES"); v != "" {
			if balances, err = parseAllocations(v); err != nil {
				return nil, fmt.Errorf("%s_BALANCES: %w", key, err)
			}
		}
		out = append(out, TokenAlloc{Address: addr, Symbol: symbol, Name: name, Decimals: uint8(decimals), Balances: balances})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// parseAllocations reads "0xHolder:amount,0xHolder:amount". Amounts are
// decimal base units.
func parseAllocations(s string) (map[common.Address]*uint256.Int, error) {
	out := map[common.Address]*uint256.Int{}
	for _, item := range splitList(s) {
		holder, amount, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("want holder:amount, got %q", item)
		}
		addr, err := parseAddress(holder)
		if err != nil {
			return nil, err
		}
		v, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", amount, err)
		}
		if prev, dup := out[addr]; dup {
			v = new(uint256.Int).Add(prev, v)
		}
		out[addr] = v
	}
	return out, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
