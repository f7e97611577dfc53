package domain

import "time"

// ChainEventName is the name of an indexed contract event.
type ChainEventName string

const (
	EventMarketCreated  ChainEventName = "MarketCreated"
	EventBetPlaced      ChainEventName = "BetPlaced"
	EventMarketResolved ChainEventName = "MarketResolved"
	EventRewardClaimed  ChainEventName = "RewardClaimed"
)

// ChainEvent is a decoded contract log.
type ChainEvent struct {
	ChainID     uint64            `json:"chain_id"`
	BlockNumber uint64            `json:"block_number"`
	TxHash      string            `json:"tx_hash"`
	LogIndex    uint              `json:"log_index"`
	Name        ChainEventName    `json:"name"`
	MarketID    uint64            `json:"market_id"`
	Account     string            `json:"account,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	ObservedAt  time.Time         `json:"observed_at"`
}
