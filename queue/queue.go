package queue

import "fmt"

// Kind identifies a job type; it doubles as the message subject suffix on
// the jobs stream.
type Kind string

const (
	KindSendOrder     Kind = "send_order"
	KindUpdateStock   Kind = "update_stock"
	KindRestockNotify Kind = "restock_notify"
)

// Subject returns the stream subject a job kind is published on.
func Subject(k Kind) string {
	return fmt.Sprintf("jobs.%s", k)
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeSuspend
)

// Result is the three-way outcome of a job handler: ack removes the item,
// retry redelivers it later (bounded), suspend halts the whole queue until
// an operator resumes it.
type Result struct {
	outcome outcome
	Reason  string
}

// Ack marks the job as done; the item is removed from the queue.
func Ack() Result {
	return Result{outcome: outcomeAck}
}

// Retry schedules a bounded redelivery of this item, for failures that may
// resolve on their own.
func Retry(reason string) Result {
	return Result{outcome: outcomeRetry, Reason: reason}
}

// Suspend halts consumption of the entire queue, for configuration-class
// failures that no amount of per-item retrying will fix.
func Suspend(reason string) Result {
	return Result{outcome: outcomeSuspend, Reason: reason}
}
