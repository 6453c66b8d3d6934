package domain

import "time"

// QueueStatus is the lifecycle state of an account queue entry. The only
// transition is pending -> processed; a failed import leaves the entry
// pending so it is retried on a later poll.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueProcessed QueueStatus = "processed"
)

// AccountQueueEntry links an account to a pending transaction import. One
// live entry exists per AccountID (upsert on conflict).
//
// Attempts and NextAttemptAt implement retry backoff: a failed import bumps
// Attempts and pushes NextAttemptAt forward so a permanently broken account
// cannot hot-loop the worker.
type AccountQueueEntry struct {
	AccountID     string
	UserID        string
	Status        QueueStatus
	Attempts      int
	NextAttemptAt time.Time
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}
