package rpc

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"proofofwork/core"
	"proofofwork/crypto"
	"proofofwork/native/escrow"
)

const (
	codeEscrowNotFound       = -32022
	codeEscrowForbidden      = -32023
	codeEscrowConflict       = -32024
	codeEscrowInternal       = -32025
	codeEscrowOutOfRange     = -32026
	codeEscrowTransferFailed = -32027
)

type escrowLister interface {
	EscrowList(filter core.EscrowFilter) ([]*escrow.Escrow, error)
}

type escrowCreateParams struct {
	JobID     uint64 `json:"jobId"`
	Worker    string `json:"worker"`
	Amount    string `json:"amount"`
	Latitude  int64  `json:"latitude"`
	Longitude int64  `json:"longitude"`
	Radius    uint64 `json:"radius"`
}

type escrowClaimParams struct {
	JobID     uint64 `json:"jobId"`
	Latitude  int64  `json:"latitude"`
	Longitude int64  `json:"longitude"`
}

type escrowJobParams struct {
	JobID uint64 `json:"jobId"`
}

type escrowListParams struct {
	Business string `json:"business,omitempty"`
	Worker   string `json:"worker,omitempty"`
	Status   string `json:"status,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type escrowJSON struct {
	JobID     uint64 `json:"jobId"`
	Business  string `json:"business"`
	Worker    string `json:"worker"`
	Amount    string `json:"amount"`
	Latitude  int64  `json:"latitude"`
	Longitude int64  `json:"longitude"`
	Radius    uint64 `json:"radius"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

type escrowOwnerResult struct {
	Owner   string `json:"owner"`
	Custody string `json:"custody"`
	Metric  string `json:"metric"`
}

type balanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type escrowFailureData struct {
	Reason string      `json:"reason"`
	Escrow *escrowJSON `json:"escrow,omitempty"`
}

func (s *Server) handleEscrowCreate(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, rpcErr := requireCaller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params escrowCreateParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	worker, err := parseAddress(params.Worker)
	if err != nil {
		return nil, invalidParams(fmt.Errorf("worker: %w", err))
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return nil, invalidParams(err)
	}
	esc, err := s.node.EscrowCreate(caller, params.JobID, worker, amount,
		escrow.Location{Latitude: params.Latitude, Longitude: params.Longitude}, params.Radius)
	if err != nil {
		return nil, escrowError(err, esc)
	}
	return formatEscrowJSON(esc), nil
}

func (s *Server) handleEscrowVerifyAndRelease(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowClaimParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.EscrowVerifyAndRelease(params.JobID, escrow.Location{Latitude: params.Latitude, Longitude: params.Longitude})
	if err != nil {
		return nil, escrowError(err, esc)
	}
	return formatEscrowJSON(esc), nil
}

func (s *Server) handleEscrowRetryRelease(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowJobParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.EscrowRetryRelease(params.JobID)
	if err != nil {
		return nil, escrowError(err, esc)
	}
	return formatEscrowJSON(esc), nil
}

func (s *Server) handleEscrowCancel(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	caller, rpcErr := requireCaller(r)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var params escrowJobParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.EscrowCancel(caller, params.JobID)
	if err != nil {
		return nil, escrowError(err, esc)
	}
	return formatEscrowJSON(esc), nil
}

func (s *Server) handleEscrowGet(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowJobParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.EscrowGet(params.JobID)
	if err != nil {
		return nil, escrowError(err, nil)
	}
	return formatEscrowJSON(esc), nil
}

func (s *Server) handleEscrowList(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params escrowListParams
	if rpcErr := decodeParams(req, &params, true); rpcErr != nil {
		return nil, rpcErr
	}
	filter, err := params.filter()
	if err != nil {
		return nil, invalidParams(err)
	}
	escrows, err := s.lister.EscrowList(filter)
	if err != nil {
		return nil, escrowError(err, nil)
	}
	out := make([]*escrowJSON, 0, len(escrows))
	for _, esc := range escrows {
		out = append(out, formatEscrowJSON(esc))
	}
	return out, nil
}

func (p escrowListParams) filter() (core.EscrowFilter, error) {
	var filter core.EscrowFilter
	if strings.TrimSpace(p.Business) != "" {
		addr, err := parseAddress(p.Business)
		if err != nil {
			return filter, fmt.Errorf("business: %w", err)
		}
		filter.Business = &addr
	}
	if strings.TrimSpace(p.Worker) != "" {
		addr, err := parseAddress(p.Worker)
		if err != nil {
			return filter, fmt.Errorf("worker: %w", err)
		}
		filter.Worker = &addr
	}
	if strings.TrimSpace(p.Status) != "" {
		status, err := escrow.ParseStatus(p.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	if p.Limit < 0 {
		return filter, errors.New("limit must not be negative")
	}
	filter.Limit = p.Limit
	return filter, nil
}

func (s *Server) handleEscrowOwner(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return escrowOwnerResult{
		Owner:   s.node.OwnerString(),
		Custody: crypto.FromRaw(s.node.Custody()).String(),
		Metric:  s.node.MetricName(),
	}, nil
}

func (s *Server) handleGetBalance(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params balanceParams
	if rpcErr := decodeParams(req, &params, false); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, invalidParams(err)
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, codeEscrowInternal, "internal_error", err.Error())
	}
	return balanceResult{Address: crypto.FromRaw(addr).String(), Balance: balance.String()}, nil
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("amount must be positive")
	}
	return amount, nil
}

func formatEscrowJSON(esc *escrow.Escrow) *escrowJSON {
	if esc == nil {
		return nil
	}
	amount := "0"
	if esc.Amount != nil {
		amount = esc.Amount.String()
	}
	return &escrowJSON{
		JobID:     esc.JobID,
		Business:  crypto.FromRaw(esc.Business).String(),
		Worker:    crypto.FromRaw(esc.Worker).String(),
		Amount:    amount,
		Latitude:  esc.Location.Latitude,
		Longitude: esc.Location.Longitude,
		Radius:    esc.Radius,
		Status:    esc.Status.String(),
		CreatedAt: esc.CreatedAt,
	}
}

// escrowError maps ledger errors to JSON-RPC codes. A failed payout carries
// the verified escrow so clients know to call escrow_retryRelease.
func escrowError(err error, esc *escrow.Escrow) *RPCError {
	data := escrowFailureData{Reason: err.Error(), Escrow: formatEscrowJSON(esc)}
	switch {
	case errors.Is(err, escrow.ErrInvalidParams):
		return newError(http.StatusBadRequest, codeInvalidParams, "invalid_params", data)
	case errors.Is(err, escrow.ErrNotFound):
		return newError(http.StatusNotFound, codeEscrowNotFound, "not_found", data)
	case errors.Is(err, escrow.ErrUnauthorized):
		return newError(http.StatusForbidden, codeEscrowForbidden, "forbidden", data)
	case errors.Is(err, escrow.ErrDuplicateJob), errors.Is(err, escrow.ErrInvalidState):
		return newError(http.StatusConflict, codeEscrowConflict, "conflict", data)
	case errors.Is(err, escrow.ErrOutOfRange):
		return newError(http.StatusUnprocessableEntity, codeEscrowOutOfRange, "out_of_range", data)
	case errors.Is(err, escrow.ErrTransferFailed):
		return newError(http.StatusBadGateway, codeEscrowTransferFailed, "transfer_failed", data)
	default:
		return newError(http.StatusInternalServerError, codeEscrowInternal, "internal_error", data)
	}
}
