// Structure of queued outbound Message Model in Carewire.

package entity

import "time"

// QueuedMessage is one outbound event buffered while its session is unreachable.
// It leaves the queue by being delivered, expired, attempt-exhausted or
// discarded along with its session, never silently.
type QueuedMessage struct {
	ID       string
	Event    string
	Payload  interface{}
	QueuedAt time.Time
	Attempts int
}
