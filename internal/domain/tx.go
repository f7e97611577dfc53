package domain

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxAction names a write action initiated through the reconciler.
type TxAction string

const (
	TxActionCreateMarket  TxAction = "create_market"
	TxActionPlaceBet      TxAction = "place_bet"
	TxActionResolveMarket TxAction = "resolve_market"
	TxActionClaimReward   TxAction = "claim_reward"
	TxActionApprove       TxAction = "approve"
)

// TxState is a step in the write-action lifecycle.
type TxState string

const (
	TxStateIdle      TxState = "idle"
	TxStateSubmitted TxState = "submitted"
	TxStatePending   TxState = "pending"
	TxStateConfirmed TxState = "confirmed"
	TxStateFailed    TxState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool {
	return s == TxStateConfirmed || s == TxStateFailed
}

// InFlight reports whether the action should block its controls.
func (s TxState) InFlight() bool {
	return s == TxStateSubmitted || s == TxStatePending
}

// TxRecord tracks one write action from submission to settlement.
type TxRecord struct {
	ID          string    `json:"id"`
	ChainID     uint64    `json:"chain_id"`
	Action      TxAction  `json:"action"`
	MarketID    *uint64   `json:"market_id,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	State       TxState   `json:"state"`
	Error       string    `json:"error,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BusyKey identifies the control a record blocks while in flight.
func (r TxRecord) BusyKey() string {
	return BusyKey(r.Action, r.MarketID)
}

// BusyKey builds the control key for an action, optionally scoped to a market.
func BusyKey(action TxAction, marketID *uint64) string {
	if marketID == nil {
		return string(action)
	}
	return string(action) + ":" + strconv.FormatUint(*marketID, 10)
}

// TxReceipt is the settled outcome of a mined transaction.
type TxReceipt struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}
