package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	dErrors "replate/pkg/domain-errors"
)

// Fake is an in-process Processor for development and tests. Intents it
// creates confirm as paid unless marked otherwise with Decline.
type Fake struct {
	mu       sync.Mutex
	seq      int
	intents  map[string]Intent
	declined map[string]bool
}

func NewFake() *Fake {
	return &Fake{intents: map[string]Intent{}, declined: map[string]bool{}}
}

func (f *Fake) CreateIntent(_ context.Context, amount int64, currency string) (Intent, error) {
	if amount <= 0 {
		return Intent{}, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	intent := Intent{
		Token:        fmt.Sprintf("pi_fake_%d", f.seq),
		ClientSecret: fmt.Sprintf("pi_fake_%d_secret", f.seq),
		Amount:       amount,
		Currency:     strings.ToLower(currency),
	}
	f.intents[intent.Token] = intent
	return intent, nil
}

func (f *Fake) ConfirmIntent(_ context.Context, token string) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	intent, ok := f.intents[token]
	if !ok {
		return Receipt{}, dErrors.New(dErrors.CodeNotFound, "payment intent not found")
	}
	status := ReceiptPaid
	if f.declined[token] {
		status = ReceiptFailed
	}
	return Receipt{Reference: token, Status: status, Amount: intent.Amount, Currency: intent.Currency}, nil
}

// Decline makes the intent confirm as failed.
func (f *Fake) Decline(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined[token] = true
}
