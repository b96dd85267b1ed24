package models

import (
	"time"
)

// CreditType is a metered usage category with an independent wallet per user.
type CreditType string

const (
	CreditTypeEnrichment CreditType = "enrichment"
	CreditTypeCalling    CreditType = "calling"
	CreditTypeScraping   CreditType = "scraping"
)

// Valid reports whether ct is one of the known credit types.
func (ct CreditType) Valid() bool {
	switch ct {
	case CreditTypeEnrichment, CreditTypeCalling, CreditTypeScraping:
		return true
	}
	return false
}

// Credit transaction_type enums.
const (
	TransactionTypePurchase   = "purchase"
	TransactionTypeUsage      = "usage"
	TransactionTypeRefund     = "refund"
	TransactionTypeAdjustment = "adjustment"
)

// Metadata is an opaque key->value payload stored verbatim on a transaction
// for audit. The ledger persists and surfaces it but never interprets it,
// with one exception: refund entries carry their original-transaction
// linkage under the keys below.
type Metadata map[string]any

// Metadata keys written by refund transactions.
const (
	MetaOriginalTransactionID = "original_transaction_id"
	MetaOriginalAmount        = "original_amount"
	MetaOriginalType          = "original_type"
)

// Balance is one wallet row per user x credit type. Rows are created lazily
// (zeroed) on first touch and never deleted. Balance is always >= 0 and
// always equals the sum of Amount over the wallet's transactions.
type Balance struct {
	UserID         int64      `json:"user_id"`
	CreditType     CreditType `json:"credit_type"`
	Balance        int64      `json:"balance"`
	TotalPurchased int64      `json:"total_purchased"`
	TotalUsed      int64      `json:"total_used"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Transaction is an immutable audit entry. Amount is signed: positive for
// credits added, negative for debits. BalanceAfter snapshots the wallet
// balance immediately after the entry was applied.
type Transaction struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	CreditType      CreditType `json:"credit_type"`
	TransactionType string     `json:"transaction_type"`
	Amount          int64      `json:"amount"`
	BalanceAfter    int64      `json:"balance_after"`
	Description     string     `json:"description"`
	ReferenceID     *string    `json:"reference_id,omitempty"`
	ReferenceType   *string    `json:"reference_type,omitempty"`
	Metadata        Metadata   `json:"metadata,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// UsageStats summarizes a wallet over a date range.
type UsageStats struct {
	Balance          int64   `json:"balance"`
	TotalPurchased   int64   `json:"total_purchased"`
	TotalUsed        int64   `json:"total_used"`
	TransactionCount int64   `json:"transaction_count"`
	AverageDaily     float64 `json:"average_daily"`
}
