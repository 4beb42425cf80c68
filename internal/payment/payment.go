// Package payment is the narrow contract to the external payment processor
// used by the paid role-request flow. Only the reference and status of a
// receipt are ever recorded; card and customer details stay with the processor.
package payment

import "context"

type ReceiptStatus string

const (
	ReceiptPaid    ReceiptStatus = "paid"
	ReceiptPending ReceiptStatus = "pending"
	ReceiptFailed  ReceiptStatus = "failed"
)

// Intent is a created-but-unpaid payment. Token is handed to the client to
// complete payment and comes back on confirmation.
type Intent struct {
	Token        string `json:"token"`
	ClientSecret string `json:"client_secret,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type Receipt struct {
	Reference string        `json:"reference"`
	Status    ReceiptStatus `json:"status"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
}

// Paid reports whether the receipt settles the intent.
func (r Receipt) Paid() bool {
	return r.Status == ReceiptPaid
}

// Processor creates and confirms payment intents. Amounts are in minor units.
type Processor interface {
	CreateIntent(ctx context.Context, amount int64, currency string) (Intent, error)
	ConfirmIntent(ctx context.Context, token string) (Receipt, error)
}
