package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated and namespaced by origin:
//
//	conv.*    conversation lifecycle (upserted, archived, left)
//	message.* message lifecycle (upserted, send_ack, send_failed, read)
//	net.*     connectivity transitions (online, offline)
//	retry.*   retry queue activity (queued, drained, discarded)
//	signal.*  ephemeral signals (typing_changed, presence_changed)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
