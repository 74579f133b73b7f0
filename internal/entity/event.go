// Structure of gateway event Models in Carewire.

package entity

import "encoding/json"

// Inbound client commands understood by the gateway.
const (
	EventJoinPatientRoom  = "joinPatientRoom"
	EventLeavePatientRoom = "leavePatientRoom"
)

// Outbound events pushed by the document-processing pipeline and by the gateway itself.
// Payload shapes of pipeline events are defined by the pipeline and passed through opaque.
const (
	EventFileAdded          = "fileAdded"
	EventFileStatus         = "fileStatus"
	EventProcessingStart    = "processingStart"
	EventProcessingStage    = "processingStage"
	EventAnalysisProgress   = "analysisProgress"
	EventProcessingComplete = "processingComplete"
	EventFileDeleted        = "fileDeleted"
	EventError              = "error"
	EventDisconnectInfo     = "disconnect_info"
	EventRoomUpdate         = "roomUpdate"
	EventRoomDeleted        = "roomDeleted"
)

// Frame is the wire format of an inbound websocket message.
type Frame struct {
	Event string          `json:"event" valid:"required,eventname~event:Event name must be a plain identifier"`
	Data  json.RawMessage `json:"data,omitempty" valid:"-"`
}

// Push is the wire format of an outbound websocket message.
type Push struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// RoomCommand is the payload of joinPatientRoom / leavePatientRoom.
type RoomCommand struct {
	Room string `json:"room" valid:"required,roomkey~room:Room key may only contain letters digits hyphens and underscores,stringlength(1|64)~room:Room key must be between 1 and 64 characters"`
}

// RoomUpdate is broadcasted to remaining members whenever room membership changes.
type RoomUpdate struct {
	Room        string `json:"room"`
	MemberCount int    `json:"memberCount"`
}

// RoomDeleted notifies members that their room got administratively removed.
type RoomDeleted struct {
	Room   string `json:"room"`
	Reason string `json:"reason,omitempty"`
}

// DisconnectInfo is sent as a structured notice when the transport closes.
type DisconnectInfo struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
