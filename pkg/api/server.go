package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/app/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/transaction"
	"github.com/uhyunpark/hyperswap/pkg/exchange"
)

const (
	maxTxBytes   = 64 << 10
	defaultLimit = 100
	maxLimit     = 1000
)

// Options configures a Server. The zero value serves no /metrics and logs nothing.
type Options struct {
	Logger         *zap.Logger
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *dex.App
	router  *mux.Router
	handler http.Handler
	hub     *Hub
	logger  *zap.SugaredLogger

	httpServer  *http.Server
	unsubscribe func()
}

// NewServer creates a new API server and subscribes it to the exchange's
// committed events.
func NewServer(app *dex.App, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Named("api").Sugar()

	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(sugar.Named("ws")),
		logger: sugar,
	}
	s.setupRoutes(opts.Gatherer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	s.handler = c.Handler(s.router)

	s.unsubscribe = app.Exchange().Subscribe(s.broadcastEvent)
	go s.hub.Run()
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")

	// Ledger
	api.HandleFunc("/balances/{asset}/{address}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/holdings/{asset}", s.handleGetHoldings).Methods("GET")
	api.HandleFunc("/nonces/{address}", s.handleGetNonce).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/count", s.handleGetOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Audit log
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// Chain
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/tx/{hash}", s.handleGetReceipt).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infow("api_server_starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drops WebSocket clients and detaches
// from the exchange.
func (s *Server) Shutdown(ctx context.Context) error {
	s.unsubscribe()
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	ex := s.app.Exchange()
	respondJSON(w, ExchangeInfo{
		ChainID:    s.app.ChainID(),
		Address:    ex.Address().Hex(),
		FeeAccount: ex.FeeAccount().Hex(),
		FeePercent: ex.FeePercent(),
	})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.app.Tokens().List()
	response := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		response[i] = TokenInfo{
			Address:     t.Address.Hex(),
			Name:        t.Name,
			Symbol:      t.Symbol,
			Decimals:    t.Decimals,
			TotalSupply: t.TotalSupply().Dec(),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset, ok := parseAsset(vars["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset", vars["asset"])
		return
	}
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", vars["address"])
		return
	}
	user := common.HexToAddress(vars["address"])

	bal, err := s.app.Exchange().BalanceOf(asset, user)
	if err != nil {
		s.internalError(w, "balance", err)
		return
	}
	respondJSON(w, BalanceInfo{Asset: asset.Hex(), User: user.Hex(), Balance: bal.Dec(), Formatted: s.formatUnits(asset, bal)})
}

func (s *Server) handleGetHoldings(w http.ResponseWriter, r *http.Request) {
	asset, ok := parseAsset(mux.Vars(r)["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset", mux.Vars(r)["asset"])
		return
	}
	total, err := s.app.Exchange().Holdings(asset)
	if err != nil {
		s.internalError(w, "holdings", err)
		return
	}
	respondJSON(w, HoldingsInfo{Asset: asset.Hex(), Total: total.Dec(), Formatted: s.formatUnits(asset, total)})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", addressStr)
		return
	}
	addr := common.HexToAddress(addressStr)
	nonce, err := s.app.Nonce(addr)
	if err != nil {
		s.internalError(w, "nonce", err)
		return
	}
	respondJSON(w, NonceInfo{Address: addr.Hex(), Nonce: nonce})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	from, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	orders, err := s.app.Exchange().Orders(from, limit)
	if err != nil {
		s.internalError(w, "orders", err)
		return
	}
	if orders == nil {
		orders = []exchange.Order{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetOrderCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Exchange().OrderCount()
	if err != nil {
		s.internalError(w, "order_count", err)
		return
	}
	respondJSON(w, OrderCountInfo{Count: n})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	ord, err := s.app.Exchange().Order(id)
	if errors.Is(err, exchange.ErrInvalidOrder) {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "order", err)
		return
	}
	respondJSON(w, ord)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	from, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	events, err := s.app.Exchange().Events(from, limit)
	if err != nil {
		s.internalError(w, "events", err)
		return
	}
	if events == nil {
		events = []exchange.Event{}
	}
	respondJSON(w, events)
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	height, appHash := s.app.Height()
	seq, err := s.app.Exchange().LastEventSeq()
	if err != nil {
		s.internalError(w, "chain_status", err)
		return
	}
	respondJSON(w, ChainStatus{
		Height:       height,
		AppHash:      "0x" + appHash.String(),
		LastEventSeq: seq,
		MempoolSize:  s.app.MempoolSize(),
		WSClients:    s.hub.ClientCount(),
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "failed to read body", err.Error())
		return
	}

	hash, err := s.app.PushTx(body)
	switch {
	case err == nil:
	case errors.Is(err, transaction.ErrMalformed), errors.Is(err, transaction.ErrBadSignature):
		respondError(w, http.StatusBadRequest, "rejected", err.Error())
		return
	case errors.Is(err, mempool.ErrFull):
		respondError(w, http.StatusServiceUnavailable, "mempool full", "")
		return
	default:
		s.internalError(w, "submit_tx", err)
		return
	}

	s.logger.Debugw("tx_submitted", "hash", hash.Hex(), "bytes", len(body))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTxResponse{Status: "pending", Hash: hash.Hex()})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	hashStr := mux.Vars(r)["hash"]
	if len(strings.TrimPrefix(hashStr, "0x")) != 2*common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid hash", hashStr)
		return
	}
	receipt, ok, err := s.app.Receipt(common.HexToHash(hashStr))
	if err != nil {
		s.internalError(w, "receipt", err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "receipt not found", "")
		return
	}
	respondJSON(w, receipt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Event fan-out
// ==============================

// broadcastEvent pushes a committed event to the "events" channel, its kind
// channel and the account channel of every address it concerns.
func (s *Server) broadcastEvent(ev exchange.Event) {
	channels := []string{"events"}
	switch ev.Kind {
	case exchange.EventTrade:
		channels = append(channels, "trades")
	case exchange.EventOrder, exchange.EventCancel:
		channels = append(channels, "orders")
	}
	for _, addr := range ev.Accounts() {
		channels = append(channels, AccountChannel(addr))
	}
	for _, ch := range channels {
		s.hub.BroadcastToChannel(ch, WSEvent{Channel: ch, Event: ev})
	}
}

// AccountChannel names the WebSocket channel carrying one address's events.
func AccountChannel(addr common.Address) string {
	return "account:" + strings.ToLower(addr.Hex())
}

// ==============================
// Helper Functions
// ==============================

// parseAsset accepts a hex address or "native".
func parseAsset(s string) (common.Address, bool) {
	if strings.EqualFold(s, "native") {
		return exchange.Native, true
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// formatUnits renders v in whole units of asset, e.g. "1.5" for 1.5e18 wei.
// Unknown assets have no decimals and render as "".
func (s *Server) formatUnits(asset common.Address, v *uint256.Int) string {
	var decimals uint8
	switch {
	case exchange.IsNative(asset):
		decimals = s.app.Bank().Decimals
	default:
		tok, ok := s.app.Tokens().Get(asset)
		if !ok {
			return ""
		}
		decimals = tok.Decimals
	}
	return decimal.NewFromBigInt(v.ToBig(), -int32(decimals)).String()
}

func pageParams(w http.ResponseWriter, r *http.Request) (from uint64, limit int, ok bool) {
	q := r.URL.Query()
	from, limit = 1, defaultLimit
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from", err.Error())
			return 0, 0, false
		}
		from = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return 0, 0, false
		}
		limit = min(n, maxLimit)
	}
	return from, limit, true
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.logger.Errorw("request_failed", "what", what, "err", err)
	respondError(w, http.StatusInternalServerError, "internal error", "")
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
