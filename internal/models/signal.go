package models

// SignalType tells a subscriber what happened on a room.
type SignalType string

const (
	SignalActivity    SignalType = "activity"
	SignalEstablished SignalType = "established"
)

// Signal is the content-free realtime notification. It never carries the
// message body; subscribers refetch authoritative state on receipt.
type Signal struct {
	Type     SignalType `json:"type"`
	SenderID int64      `json:"senderId"`
}
