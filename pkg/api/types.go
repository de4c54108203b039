package api

import "github.com/uhyunpark/hyperswap/pkg/exchange"

// API response types for REST endpoints and WebSocket messages.
// Amounts are decimal strings in the asset's base units.

// ==============================
// REST Response Types
// ==============================

// ExchangeInfo is the exchange's immutable configuration.
type ExchangeInfo struct {
	ChainID    int64  `json:"chainId"`
	Address    string `json:"address"`    // custody address
	FeeAccount string `json:"feeAccount"` // receives every trade fee
	FeePercent uint64 `json:"feePercent"` // whole percent of amountGet
}

type BalanceInfo struct {
	Asset     string `json:"asset"`
	User      string `json:"user"`
	Balance   string `json:"balance"`
	Formatted string `json:"formatted,omitempty"` // Balance scaled by the asset's decimals
}

type HoldingsInfo struct {
	Asset     string `json:"asset"`
	Total     string `json:"total"` // sum over every ledger entry
	Formatted string `json:"formatted,omitempty"`
}

type OrderCountInfo struct {
	Count uint64 `json:"count"`
}

type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // last executed nonce; the next tx must use a larger one
}

type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

type ChainStatus struct {
	Height       int64  `json:"height"`
	AppHash      string `json:"appHash"`
	LastEventSeq uint64 `json:"lastEventSeq"`
	MempoolSize  int    `json:"mempoolSize"`
	WSClients    int    `json:"wsClients"`
}

type SubmitTxResponse struct {
	Status string `json:"status"`
	Hash   string `json:"hash"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients.
//
//	{"op":"subscribe","channels":["trades","account:0xabc..."]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent wraps one audit-log event pushed on a channel.
type WSEvent struct {
	Channel string         `json:"channel"`
	Event   exchange.Event `json:"event"`
}
