package model

import "time"

// TransactionType enumerates the transaction types the pipeline routes on.
type TransactionType string

const (
	TxnBalanceInquiry TransactionType = "BALANCE_INQUIRY"
	TxnWithdrawal     TransactionType = "WITHDRAWAL"
	TxnTransfer       TransactionType = "TRANSFER"
	TxnBillPayment    TransactionType = "BILL_PAYMENT"
	TxnReversal       TransactionType = "REVERSAL"
)

// Response codes aligned with ISO 8583 conventions, per spec.md §7.
const (
	RespApproved             = "00"
	RespInvalidCard          = "14"
	RespExpiredCard          = "54"
	RespNotPermitted         = "57"
	RespExceedsWithdrawLimit = "61"
	RespDuplicateTransaction = "94"
	RespSystemMalfunction    = "96"
)

// TransactionRequest is the request record carried through the pipeline.
// See spec.md §3.
type TransactionRequest struct {
	TransactionID    string
	Type             TransactionType
	ProcessingCode   string
	CardNumberMasked string
	CardNumberRaw    string
	Amount           Money
	SourceAccount    string
	DestAccount      string
	TerminalID       string
	RRN              string
	STAN             string
	PINBlock         string
	AcquiringBank    string
	ChannelName      string
	CardExpiry       string // YYMM
	CustomerID       string

	// ReversalOf is set only for TxnReversal: the transaction id being reversed.
	ReversalOf string

	// Extensions carries type-specific fields (e-ticket card, QR data, SWIFT
	// beneficiary, etc.) that the core does not interpret itself.
	Extensions map[string]string
}

// Fingerprint returns the (RRN, STAN, terminal) duplicate-detection tuple.
func (r *TransactionRequest) Fingerprint() DuplicateFingerprint {
	return DuplicateFingerprint{RRN: r.RRN, STAN: r.STAN, TerminalID: r.TerminalID}
}

// TransactionResponse is the response record produced by the pipeline.
// See spec.md §3.
type TransactionResponse struct {
	ResponseCode      string
	Approved          bool
	AuthorizationCode string
	RRN               string
	STAN              string
	ProcessingTimeMS  int64
	ReasonCode        string
	Description       string
	Extensions        map[string]string
}

// DuplicateFingerprint identifies a request for duplicate detection (spec.md
// §3). Absence of any component contributes as the empty string.
type DuplicateFingerprint struct {
	RRN        string
	STAN       string
	TerminalID string
}

func (f DuplicateFingerprint) Key() string {
	return f.RRN + "|" + f.STAN + "|" + f.TerminalID
}

// AuditRecord is the payload published to the Kafka audit topic by the
// pipeline's AUDIT stage (SPEC_FULL.md A5).
type AuditRecord struct {
	EventID         string
	TransactionID   string
	Type            TransactionType
	ChannelName     string
	RequestSummary  string
	ResponseCode    string
	Approved        bool
	ProcessingTimeMS int64
	StageTimings    map[string]time.Duration
	Timestamp       time.Time
}
