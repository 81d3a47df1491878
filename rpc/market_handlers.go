package rpc

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"nftmarket/config"
	"nftmarket/native/assets"
	nativecommon "nftmarket/native/common"
	"nftmarket/native/market"
)

type createListingParams struct {
	Seller      string `json:"seller"`
	AssetID     uint64 `json:"assetId"`
	AskingPrice string `json:"askingPrice"`
	IsAuction   bool   `json:"isAuction"`
}

type listingIDParams struct {
	Caller    string `json:"caller"`
	ListingID uint64 `json:"listingId"`
}

type paymentParams struct {
	Caller    string `json:"caller"`
	ListingID uint64 `json:"listingId"`
	Amount    string `json:"amount"`
	Value     string `json:"value"`
}

type feeRemittanceParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

type feeExemptionParams struct {
	Caller string `json:"caller"`
	Seller string `json:"seller"`
	Exempt bool   `json:"exempt"`
}

type pauseParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type bidQueryParams struct {
	ListingID uint64 `json:"listingId"`
	Bidder    string `json:"bidder"`
}

type listingQueryParams struct {
	ListingID uint64 `json:"listingId"`
}

type assetQueryParams struct {
	AssetID uint64 `json:"assetId"`
}

type mintParams struct {
	Caller  string `json:"caller"`
	Owner   string `json:"owner"`
	AssetID uint64 `json:"assetId"`
}

type approveParams struct {
	Caller   string `json:"caller"`
	Operator string `json:"operator"`
	AssetID  uint64 `json:"assetId"`
}

type approvalForAllParams struct {
	Caller   string `json:"caller"`
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type addressParams struct {
	Address string `json:"address"`
}

type bidJSON struct {
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
	Active bool   `json:"active"`
}

type listingJSON struct {
	ID          uint64   `json:"id"`
	AssetID     uint64   `json:"assetId"`
	Seller      string   `json:"seller"`
	AskingPrice string   `json:"askingPrice"`
	IsAuction   bool     `json:"isAuction"`
	IsSold      bool     `json:"isSold"`
	Canceled    bool     `json:"canceled"`
	CreatedAt   int64    `json:"createdAt"`
	Bidders     []string `json:"bidders,omitempty"`
	WinningBid  *bidJSON `json:"winningBid,omitempty"`
}

func bidToJSON(b *market.Bid) *bidJSON {
	if b == nil {
		return nil
	}
	amount := "0"
	if b.Amount != nil {
		amount = b.Amount.String()
	}
	return &bidJSON{Bidder: b.Bidder.Hex(), Amount: amount, Active: b.Active}
}

func listingToJSON(l *market.Listing) *listingJSON {
	out := &listingJSON{
		ID:        l.ID,
		AssetID:   l.AssetID,
		Seller:    l.Seller.Hex(),
		IsAuction: l.IsAuction,
		IsSold:    l.IsSold,
		Canceled:  l.Canceled,
		CreatedAt: l.CreatedAt,
	}
	out.AskingPrice = "0"
	if l.AskingPrice != nil {
		out.AskingPrice = l.AskingPrice.String()
	}
	for _, addr := range l.BidderList {
		out.Bidders = append(out.Bidders, addr.Hex())
	}
	out.WinningBid = bidToJSON(l.WinningBid)
	return out
}

// decodeParams unpacks the single parameter object the market methods expect.
func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeMarketInvalidParams, Message: "invalid_params", Data: "exactly one parameter object expected"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeMarketInvalidParams, Message: "invalid_params", Data: err.Error()}
	}
	return nil
}

func parseAddressParam(raw, field string) (common.Address, *RPCError) {
	addr, err := config.ParseAddress(raw)
	if err != nil {
		return common.Address{}, &RPCError{Code: codeMarketInvalidParams, Message: "invalid_params", Data: field + ": " + err.Error()}
	}
	return addr, nil
}

func parseAmountParam(raw, field string) (*big.Int, *RPCError) {
	amount, err := config.ParseAmount(raw)
	if err != nil {
		return nil, &RPCError{Code: codeMarketInvalidParams, Message: "invalid_params", Data: field + ": " + err.Error()}
	}
	return amount, nil
}

// marketError maps engine failures onto JSON-RPC error envelopes.
func marketError(err error) (int, *RPCError) {
	switch {
	case errors.Is(err, market.ErrListingNotFound), errors.Is(err, assets.ErrAssetNotFound):
		return http.StatusNotFound, &RPCError{Code: codeMarketNotFound, Message: "not_found", Data: err.Error()}
	case errors.Is(err, market.ErrNotSeller),
		errors.Is(err, market.ErrNotAdministrator),
		errors.Is(err, market.ErrNotAssetOwner),
		errors.Is(err, market.ErrCustodyNotApproved),
		errors.Is(err, assets.ErrNotOwner),
		errors.Is(err, assets.ErrNotAuthorized):
		return http.StatusForbidden, &RPCError{Code: codeMarketForbidden, Message: "forbidden", Data: err.Error()}
	case errors.Is(err, market.ErrZeroAddress),
		errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, assets.ErrZeroAddress):
		return http.StatusBadRequest, &RPCError{Code: codeMarketInvalidParams, Message: "invalid_params", Data: err.Error()}
	case errors.Is(err, market.ErrAlreadyListed),
		errors.Is(err, market.ErrListingNotActive),
		errors.Is(err, market.ErrNotAuctionable),
		errors.Is(err, market.ErrBelowAskingPrice),
		errors.Is(err, market.ErrInsufficientPayment),
		errors.Is(err, market.ErrCannotWithdrawWinningBid),
		errors.Is(err, market.ErrNoActiveBids),
		errors.Is(err, market.ErrTransferRejected),
		errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, assets.ErrAssetExists),
		errors.Is(err, assets.ErrReceiverRejected):
		return http.StatusConflict, &RPCError{Code: codeMarketConflict, Message: "conflict", Data: err.Error()}
	default:
		return http.StatusInternalServerError, &RPCError{Code: codeMarketInternal, Message: "internal_error", Data: err.Error()}
	}
}

func writeRPCError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	writeError(w, status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params createListingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	seller, rpcErr := parseAddressParam(params.Seller, "seller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	price, rpcErr := parseAmountParam(params.AskingPrice, "askingPrice")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	id, err := s.node.CreateListing(seller, params.AssetID, price, params.IsAuction)
	if err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"listingId": id})
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params listingIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.CancelListing(caller, params.ListingID); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	params, caller, amount, value, rpcErr := decodePayment(req)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.PlaceBid(caller, params.ListingID, amount, value); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleWithdrawBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params listingIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.WithdrawBid(caller, params.ListingID); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleAcceptWinningBid(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params listingIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.AcceptWinningBid(caller, params.ListingID); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleBuyItem(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	params, caller, amount, value, rpcErr := decodePayment(req)
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.BuyItem(caller, params.ListingID, amount, value); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func decodePayment(req *RPCRequest) (*paymentParams, common.Address, *big.Int, *big.Int, *RPCError) {
	var params paymentParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, common.Address{}, nil, nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, common.Address{}, nil, nil, rpcErr
	}
	amount, rpcErr := parseAmountParam(params.Amount, "amount")
	if rpcErr != nil {
		return nil, common.Address{}, nil, nil, rpcErr
	}
	value := amount
	if params.Value != "" {
		value, rpcErr = parseAmountParam(params.Value, "value")
		if rpcErr != nil {
			return nil, common.Address{}, nil, nil, rpcErr
		}
	}
	return &params, caller, amount, value, nil
}

func (s *Server) handleSetFeeRemittanceAddress(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params feeRemittanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddressParam(params.Address, "address")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.SetFeeRemittanceAddress(caller, addr); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetFeeExemption(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params feeExemptionParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	seller, rpcErr := parseAddressParam(params.Seller, "seller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.SetFeeExemption(caller, seller, params.Exempt); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params pauseParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.SetPaused(caller, params.Module, params.Paused); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetListing(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listingQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	listing, err := s.node.GetListing(params.ListingID)
	if err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, listingToJSON(listing))
}

func (s *Server) handleGetBid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params bidQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	bidder, rpcErr := parseAddressParam(params.Bidder, "bidder")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	bid, err := s.node.BidOf(params.ListingID, bidder)
	if err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, bidToJSON(bid))
}

func (s *Server) handleListBidders(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listingQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	bidders, err := s.node.Bidders(params.ListingID)
	if err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	out := make([]string, 0, len(bidders))
	for _, addr := range bidders {
		out = append(out, addr.Hex())
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.node.Events())
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	addr, rpcErr := parseAddressParam(params.Address, "address")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	balance, err := s.node.BalanceOf(addr)
	if err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"address": addr.Hex(), "balance": balance.String()})
}

func (s *Server) handleMintAsset(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params mintParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	owner, rpcErr := parseAddressParam(params.Owner, "owner")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.MintAsset(caller, owner, params.AssetID); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleApproveAsset(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params approveParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	operator, rpcErr := parseAddressParam(params.Operator, "operator")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.ApproveAsset(caller, operator, params.AssetID); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetApprovalForAll(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeRPCError(w, http.StatusUnauthorized, req.ID, authErr)
		return
	}
	var params approvalForAllParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	operator, rpcErr := parseAddressParam(params.Operator, "operator")
	if rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	if err := s.node.SetApprovalForAll(caller, operator, params.Approved); err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleOwnerOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params assetQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, rpcErr)
		return
	}
	owner, ok, err := s.node.OwnerOf(params.AssetID)
	if err != nil {
		status, rpcErr := marketError(err)
		writeRPCError(w, status, req.ID, rpcErr)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMarketNotFound, "not_found", "asset not minted")
		return
	}
	writeResult(w, req.ID, map[string]string{"owner": owner.Hex()})
}
