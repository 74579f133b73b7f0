// Structure of Admission Record Model in Carewire.

package entity

import "time"

// AdmissionRecord is the per source address bookkeeping used for
// connection counting and event rate limiting. Created lazily on first
// connection from an address, deleted once the connection count returns to
// zero and the event window drained.
type AdmissionRecord struct {
	Connections int
	Events      []time.Time
}
