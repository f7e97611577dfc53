package domain

import "time"

// ToastLevel is the severity of a user-facing notification.
type ToastLevel string

const (
	ToastSuccess ToastLevel = "success"
	ToastError   ToastLevel = "error"
	ToastInfo    ToastLevel = "info"
)

// Toast is a user-facing notification about an action or a read.
type Toast struct {
	ID          string     `json:"id"`
	Level       ToastLevel `json:"level"`
	Message     string     `json:"message"`
	TxHash      string     `json:"tx_hash,omitempty"`
	ExplorerURL string     `json:"explorer_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
