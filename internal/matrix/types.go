// Package matrix is a small Matrix client-server API client covering what
// a household bot needs: long-poll sync, sending text, joining rooms,
// reading room history and server-side search.
package matrix

import (
	"encoding/json"
	"time"
)

// Event is a Matrix room event.
type Event struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	RoomID         string          `json:"room_id,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// Text decodes the event as a text message. ok is false for anything
// other than m.room.message with msgtype m.text or m.notice.
func (e Event) Text() (content MessageContent, ok bool) {
	if e.Type != "m.room.message" || len(e.Content) == 0 {
		return MessageContent{}, false
	}
	if err := json.Unmarshal(e.Content, &content); err != nil {
		return MessageContent{}, false
	}
	if content.MsgType != "m.text" && content.MsgType != "m.notice" {
		return MessageContent{}, false
	}
	return content, true
}

// Timestamp returns the server timestamp as a time.
func (e Event) Timestamp() time.Time {
	return time.UnixMilli(e.OriginServerTS)
}

// Message is an inbound text message handed to the bot.
type Message struct {
	RoomID   string
	EventID  string
	Sender   string
	Body     string
	SentAt   time.Time
	Received time.Time
}

// SyncOptions controls one /sync call.
type SyncOptions struct {
	Since   string
	Timeout time.Duration
	Filter  string
}

// SyncResponse is the subset of /sync the bot reads.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups rooms by membership.
type RoomsSection struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
}

// JoinedRoom is sync data for a joined room.
type JoinedRoom struct {
	Timeline struct {
		Events []Event `json:"events"`
	} `json:"timeline"`
}

// InvitedRoom is sync data for a pending invite.
type InvitedRoom struct {
	InviteState struct {
		Events []Event `json:"events"`
	} `json:"invite_state"`
}

// RoomMessagesOptions controls /messages pagination.
type RoomMessagesOptions struct {
	From      string
	Direction string // "b" or "f"
	Limit     int
}

// RoomMessagesResponse is returned by RoomMessages.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// SearchResult is one hit from server-side search.
type SearchResult struct {
	Rank   float64 `json:"rank"`
	Result Event   `json:"result"`
}

type searchResponse struct {
	SearchCategories struct {
		RoomEvents struct {
			Count   int            `json:"count"`
			Results []SearchResult `json:"results"`
		} `json:"room_events"`
	} `json:"search_categories"`
}

type whoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

type joinedRoomsResponse struct {
	JoinedRooms []string `json:"joined_rooms"`
}

type joinedMembersResponse struct {
	Joined map[string]struct {
		DisplayName string `json:"display_name"`
	} `json:"joined"`
}

type sendEventResponse struct {
	EventID string `json:"event_id"`
}
