// Package events carries member join notifications from Kafka into the
// autorole engine.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gopher0727/RoleInvite/internal/autorole"
	"github.com/Gopher0727/RoleInvite/internal/utils"
)

var ErrInvalidEvent = errors.New("invalid member join event")

// MemberJoinEvent is the wire form of a join on the member.join topic.
type MemberJoinEvent struct {
	CommunityID string    `json:"community_id"`
	MemberID    string    `json:"member_id"`
	JoinedAt    time.Time `json:"joined_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// Decode parses and validates a message payload.
func Decode(data []byte) (MemberJoinEvent, error) {
	var ev MemberJoinEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !utils.ValidateID(ev.CommunityID) {
		return ev, fmt.Errorf("%w: bad community_id %q", ErrInvalidEvent, ev.CommunityID)
	}
	if !utils.ValidateID(ev.MemberID) {
		return ev, fmt.Errorf("%w: bad member_id %q", ErrInvalidEvent, ev.MemberID)
	}
	return ev, nil
}

// Encode is the inverse of Decode.
func (e MemberJoinEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// JoinEvent converts to the engine's event type.
func (e MemberJoinEvent) JoinEvent() autorole.JoinEvent {
	return autorole.JoinEvent{
		Community: e.CommunityID,
		Member:    e.MemberID,
		JoinedAt:  e.JoinedAt,
	}
}
