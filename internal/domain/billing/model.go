package billing

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// PaymentMode is how a bill was settled.
type PaymentMode string

const (
	ModeCash      PaymentMode = "cash"
	ModeCard      PaymentMode = "card"
	ModeUPI       PaymentMode = "upi"
	ModeInsurance PaymentMode = "insurance"
)

// ParseMode normalises a requested payment mode.
func ParseMode(s string) (PaymentMode, error) {
	m := PaymentMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeCash, ModeCard, ModeUPI, ModeInsurance:
		return m, nil
	}
	return "", apperr.Validationf("bill", "pay", "invalid payment mode: %q", s)
}

// Bill maps to the billing table.
type Bill struct {
	ID          uuid.UUID    `json:"id"`
	PatientID   uuid.UUID    `json:"patient_id"`
	Amount      float64      `json:"amount"`
	Status      Status       `json:"status"`
	PaymentMode *PaymentMode `json:"payment_mode,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	PaidAt      *time.Time   `json:"paid_at,omitempty"`
}

// MaxAmount bounds bill amounts to what NUMERIC(12,2) holds.
const MaxAmount = 1e10

// ValidateAmount rejects non-positive, non-finite and oversized amounts.
func ValidateAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return apperr.Validation("bill", "create", "amount must be a positive number")
	}
	if amount >= MaxAmount {
		return apperr.Validationf("bill", "create", "amount must be below %.0f", MaxAmount)
	}
	return nil
}

// Pay settles a pending bill.
func (b *Bill) Pay(mode PaymentMode, at time.Time) error {
	if b.Status != StatusPending {
		return apperr.InvalidTransition("bill", b.ID.String(), "pay", string(b.Status), "bill is already paid")
	}
	b.Status = StatusPaid
	b.PaymentMode = &mode
	b.PaidAt = &at
	return nil
}
