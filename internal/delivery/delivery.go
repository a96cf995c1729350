// Package delivery models the sender-visible message lifecycle. Delivery
// status is derived from recipient read receipts and only ever moves forward;
// the transport-level sync status is tracked separately by the store.
package delivery

import (
	"fmt"
	"slices"
)

// Status is a sender-visible delivery state.
type Status string

const (
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
)

// validTransitions defines allowed forward movement. Read is terminal.
var validTransitions = map[Status][]Status{
	Sending:   {Sent},
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
}

var rank = map[Status]int{
	Sending:   0,
	Sent:      1,
	Delivered: 2,
	Read:      3,
}

// Transition validates a single forward step. Returns an error for unknown
// states, backward movement, or skipped mandatory steps (sending cannot jump
// straight to read).
func Transition(from, to Status) (Status, error) {
	allowed, ok := validTransitions[from]
	if !ok {
		return from, fmt.Errorf("unknown delivery status %q", from)
	}
	if !slices.Contains(allowed, to) {
		return from, fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return to, nil
}

// Merge resolves two observations of the same message to the further-along
// status. Incoming remote records can arrive out of order; merging keeps the
// forward-only invariant without erroring on stale echoes.
func Merge(current, incoming Status) Status {
	ri, ok := rank[incoming]
	if !ok {
		return current
	}
	if rc, ok := rank[current]; ok && rc >= ri {
		return current
	}
	return incoming
}

// Derive computes the status from the message's remote-visible facts: whether
// the write was acknowledged and who has read it. A message is read as soon
// as ANY recipient other than the sender appears in readBy — groups do not
// wait for all participants; the per-reader map feeds the detail view
// instead.
func Derive(senderID string, readBy map[string]int64, acked bool) Status {
	for uid := range readBy {
		if uid != senderID {
			return Read
		}
	}
	if acked {
		return Sent
	}
	return Sending
}

// Visible reports whether the per-message status icon renders in the thread
// view. Group threads never show it; only the read-receipts detail view
// discloses the full map.
func Visible(isGroup, fromMe bool) bool {
	return fromMe && !isGroup
}
