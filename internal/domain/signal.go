package domain

// Signal bus channels.
const (
	ChannelToast   = "ch:toast"
	ChannelTx      = "ch:tx"
	ChannelMarkets = "ch:markets"
	ChannelEvents  = "ch:events"

	StreamTx = "stream:tx"
)

// StatusInfo summarises the service for the dashboard header.
type StatusInfo struct {
	Mode          string `json:"mode"`
	ChainID       uint64 `json:"chain_id"`
	Network       string `json:"network,omitempty"`
	Account       string `json:"account,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Markets       int    `json:"markets"`
}
