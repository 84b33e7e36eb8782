package models

// ReadMarker is a user's read position in one channel.
type ReadMarker struct {
	UserID     int64  `json:"user_id"`
	ChannelKey string `json:"channel_key"`
	LastReadID int64  `json:"last_read_id"`
	ReadAt     int64  `json:"read_at"`
}

// UnreadCount is the badge value for one channel.
type UnreadCount struct {
	Channel Channel `json:"channel"`
	Room    string  `json:"room"`
	Count   int     `json:"count"`
}
