package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelKind is the scope a conversation is addressed by.
type ChannelKind string

const (
	KindDirect  ChannelKind = "direct"
	KindGroup   ChannelKind = "group"
	KindProject ChannelKind = "project"
)

// SubChannel partitions a project conversation.
type SubChannel string

const (
	SubChannelNone                 SubChannel = ""
	SubChannelClient               SubChannel = "client"
	SubChannelTeam                 SubChannel = "team"
	SubChannelProfessionalEngineer SubChannel = "professional_engineer"
)

// ProjectSubChannels lists project sub-channels in canonical display order.
var ProjectSubChannels = []SubChannel{SubChannelClient, SubChannelTeam, SubChannelProfessionalEngineer}

// Valid reports whether s names a project sub-channel.
func (s SubChannel) Valid() bool {
	switch s {
	case SubChannelClient, SubChannelTeam, SubChannelProfessionalEngineer:
		return true
	}
	return false
}

// Channel is the canonical identity of a conversation. It is never stored as a
// mutable reference; it is always rebuilt from its parts.
//
// For direct channels ScopeID is the lower participant id and PeerID the higher.
type Channel struct {
	Kind       ChannelKind `json:"kind"`
	ScopeID    int64       `json:"scope_id"`
	PeerID     int64       `json:"peer_id,omitempty"`
	SubChannel SubChannel  `json:"sub_channel,omitempty"`
}

// DirectChannel builds the direct channel between a and b, independent of order.
func DirectChannel(a, b int64) Channel {
	if a > b {
		a, b = b, a
	}
	return Channel{Kind: KindDirect, ScopeID: a, PeerID: b}
}

// GroupChannel builds the channel of a named group.
func GroupChannel(groupID int64) Channel {
	return Channel{Kind: KindGroup, ScopeID: groupID}
}

// ProjectChannel builds a project sub-channel.
func ProjectChannel(projectID int64, sub SubChannel) Channel {
	return Channel{Kind: KindProject, ScopeID: projectID, SubChannel: sub}
}

// Validate checks the structural shape of the identity.
func (c Channel) Validate() error {
	switch c.Kind {
	case KindDirect:
		if c.ScopeID <= 0 || c.PeerID <= 0 {
			return fmt.Errorf("direct channel needs two participant ids")
		}
		if c.ScopeID == c.PeerID {
			return fmt.Errorf("direct channel needs two distinct participants")
		}
		if c.ScopeID > c.PeerID {
			return fmt.Errorf("direct channel participants are not in canonical order")
		}
		if c.SubChannel != SubChannelNone {
			return fmt.Errorf("direct channel has no sub-channel")
		}
	case KindGroup:
		if c.ScopeID <= 0 {
			return fmt.Errorf("group channel needs a group id")
		}
		if c.PeerID != 0 || c.SubChannel != SubChannelNone {
			return fmt.Errorf("group channel has no peer or sub-channel")
		}
	case KindProject:
		if c.ScopeID <= 0 {
			return fmt.Errorf("project channel needs a project id")
		}
		if c.PeerID != 0 {
			return fmt.Errorf("project channel has no peer")
		}
		if !c.SubChannel.Valid() {
			return fmt.Errorf("unknown project sub-channel %q", c.SubChannel)
		}
	default:
		return fmt.Errorf("unknown channel kind %q", c.Kind)
	}
	return nil
}

// RoomName is the realtime room and storage key of the channel. Publisher and
// subscriber both derive it here, so the format must not change:
//
//	dm-<low>-<high>, group-<id>, project-<id>-<sub_channel>
func (c Channel) RoomName() string {
	switch c.Kind {
	case KindDirect:
		lo, hi := c.ScopeID, c.PeerID
		if lo > hi {
			lo, hi = hi, lo
		}
		return "dm-" + strconv.FormatInt(lo, 10) + "-" + strconv.FormatInt(hi, 10)
	case KindGroup:
		return "group-" + strconv.FormatInt(c.ScopeID, 10)
	case KindProject:
		return "project-" + strconv.FormatInt(c.ScopeID, 10) + "-" + string(c.SubChannel)
	}
	return ""
}

// Key is the storage key of the channel; identical to the room name.
func (c Channel) Key() string { return c.RoomName() }

func (c Channel) String() string { return c.RoomName() }

// Participants returns both ids of a direct channel.
func (c Channel) Participants() (int64, int64) { return c.ScopeID, c.PeerID }

// Includes reports whether userID is a participant of a direct channel.
func (c Channel) Includes(userID int64) bool {
	return c.Kind == KindDirect && (c.ScopeID == userID || c.PeerID == userID)
}

// Other returns the counterpart of userID in a direct channel.
func (c Channel) Other(userID int64) int64 {
	if c.ScopeID == userID {
		return c.PeerID
	}
	return c.ScopeID
}

// ParseRoom is the inverse of RoomName. Only canonical names parse.
func ParseRoom(room string) (Channel, bool) {
	switch {
	case strings.HasPrefix(room, "dm-"):
		parts := strings.Split(strings.TrimPrefix(room, "dm-"), "-")
		if len(parts) != 2 {
			return Channel{}, false
		}
		a, ok1 := parseID(parts[0])
		b, ok2 := parseID(parts[1])
		if !ok1 || !ok2 || a >= b {
			return Channel{}, false
		}
		return DirectChannel(a, b), true
	case strings.HasPrefix(room, "group-"):
		id, ok := parseID(strings.TrimPrefix(room, "group-"))
		if !ok {
			return Channel{}, false
		}
		return GroupChannel(id), true
	case strings.HasPrefix(room, "project-"):
		rest := strings.TrimPrefix(room, "project-")
		idx := strings.IndexByte(rest, '-')
		if idx < 0 {
			return Channel{}, false
		}
		id, ok := parseID(rest[:idx])
		sub := SubChannel(rest[idx+1:])
		if !ok || !sub.Valid() {
			return Channel{}, false
		}
		return ProjectChannel(id, sub), true
	}
	return Channel{}, false
}

// parseID accepts positive decimal ids without sign or leading zeros.
func parseID(s string) (int64, bool) {
	if s == "" || s[0] == '0' || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ChannelRef is the wire shape used to name a destination channel in requests.
// For direct channels ScopeID is the other participant.
type ChannelRef struct {
	Kind       ChannelKind `json:"kind"`
	ScopeID    int64       `json:"scope_id"`
	SubChannel SubChannel  `json:"sub_channel,omitempty"`
}

// SubChannelOption is one entry of the project sub-channel picker.
type SubChannelOption struct {
	SubChannel SubChannel `json:"sub_channel"`
	Room       string     `json:"room"`
	Preferred  bool       `json:"preferred"`
	Opened     bool       `json:"opened"`
}
