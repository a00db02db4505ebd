package model

import "time"

// Recurrence is how a ScheduledTransfer repeats, per spec.md §4.10.
type Recurrence string

const (
	RecurrenceOneTime Recurrence = "ONE_TIME"
	RecurrenceDaily   Recurrence = "DAILY"
	RecurrenceWeekly  Recurrence = "WEEKLY"
	RecurrenceMonthly Recurrence = "MONTHLY"
)

// ScheduledTransferStatus is the lifecycle of a ScheduledTransfer.
type ScheduledTransferStatus string

const (
	ScheduledActive    ScheduledTransferStatus = "ACTIVE"
	ScheduledSuspended ScheduledTransferStatus = "SUSPENDED"
	ScheduledCompleted ScheduledTransferStatus = "COMPLETED"
	ScheduledCancelled ScheduledTransferStatus = "CANCELLED"
)

// ScheduledTransfer is a future-dated or recurring transfer held by C10.
type ScheduledTransfer struct {
	ID            string
	CustomerID    string
	SourceAccount string
	DestAccount   string
	Amount        Money
	Recurrence    Recurrence
	ScheduledDate time.Time // midnight UTC of the due date
	EndDate       time.Time // zero value means no end date (required for recurring)
	Status        ScheduledTransferStatus
	CreatedAt     time.Time
}
