package domain

import "github.com/ethereum/go-ethereum/common"

// Session is the wallet and network context the reconciler works against.
type Session struct {
	Account   common.Address `json:"account"`
	ChainID   uint64         `json:"chain_id"`
	Connected bool           `json:"connected"`
}
