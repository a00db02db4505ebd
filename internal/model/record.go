package model

import "time"

// TransactionStatus is the lifecycle of a persisted TransactionRecord
// (spec.md §6 TransactionRepository).
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "PENDING"
	StatusApproved TransactionStatus = "APPROVED"
	StatusDeclined TransactionStatus = "DECLINED"
	StatusReversed TransactionStatus = "REVERSED"
)

// TransactionRecord is what the pipeline's AUDIT stage persists via the
// TransactionRepository: a durable (at-least-once) projection of one
// request/response pair.
type TransactionRecord struct {
	TransactionID string
	RRN           string
	Type          TransactionType
	Status        TransactionStatus
	ResponseCode  string
	Amount        Money
	CustomerID    string
	ChannelName   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
