package rpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftmarket/core"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001

	codeMarketInvalidParams = -32021
	codeMarketNotFound      = -32022
	codeMarketForbidden     = -32023
	codeMarketConflict      = -32024
	codeMarketInternal      = -32025
)

// RPCRequest is a single JSON-RPC call envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// Server exposes the marketplace node over JSON-RPC.
type Server struct {
	node  *core.Node
	token string
	log   *slog.Logger
}

// NewServer builds an RPC server for the node. A non-empty token gates every
// mutating method behind bearer authentication.
func NewServer(node *core.Node, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, token: strings.TrimSpace(token), log: logger.With("component", "rpc")}
}

// Router returns the HTTP routes: the JSON-RPC endpoint, a health probe and
// the Prometheus metrics endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/rpc", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.token == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "Bearer "+s.token {
		return nil
	}
	return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing or invalid bearer token"}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "method required")
		return
	}
	switch req.Method {
	case "market_createListing":
		s.handleCreateListing(w, r, &req)
	case "market_cancelListing":
		s.handleCancelListing(w, r, &req)
	case "market_placeBid":
		s.handlePlaceBid(w, r, &req)
	case "market_withdrawBid":
		s.handleWithdrawBid(w, r, &req)
	case "market_acceptWinningBid":
		s.handleAcceptWinningBid(w, r, &req)
	case "market_buyItem":
		s.handleBuyItem(w, r, &req)
	case "market_setFeeRemittanceAddress":
		s.handleSetFeeRemittanceAddress(w, r, &req)
	case "market_setFeeExemption":
		s.handleSetFeeExemption(w, r, &req)
	case "market_setPaused":
		s.handleSetPaused(w, r, &req)
	case "market_getListing":
		s.handleGetListing(w, r, &req)
	case "market_getBid":
		s.handleGetBid(w, r, &req)
	case "market_listBidders":
		s.handleListBidders(w, r, &req)
	case "market_listEvents":
		s.handleListEvents(w, r, &req)
	case "market_getBalance":
		s.handleGetBalance(w, r, &req)
	case "market_vaultAddress":
		writeResult(w, req.ID, s.node.VaultAddress().Hex())
	case "assets_mint":
		s.handleMintAsset(w, r, &req)
	case "assets_approve":
		s.handleApproveAsset(w, r, &req)
	case "assets_setApprovalForAll":
		s.handleSetApprovalForAll(w, r, &req)
	case "assets_ownerOf":
		s.handleOwnerOf(w, r, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
	}
}
