package api

import (
	"encoding/json"
	"fmt"

	"github.com/itchan-dev/threadsync/shared/domain"
)

type EventType string

const (
	ReplyCreated      EventType = "ReplyCreated"
	LikeCountChanged  EventType = "LikeCountChanged"
	DiscussionUpdated EventType = "DiscussionUpdated"
	// ReplyRemoved is the tombstone pushed by moderation.
	ReplyRemoved EventType = "ReplyRemoved"
)

// Event is the downstream realtime frame.
type Event struct {
	Type         EventType           `json:"type"`
	DiscussionId domain.DiscussionId `json:"discussionId"`
	MutationId   domain.MutationId   `json:"mutationId,omitempty"`
	Sequence     domain.Sequence     `json:"sequence"`
	Data         json.RawMessage     `json:"data"`
}

type ReplyRemovedData struct {
	ReplyId domain.ReplyId `json:"replyId"`
}

// NewEvent encodes data into a frame.
func NewEvent(t EventType, discussionId domain.DiscussionId, mutationId domain.MutationId, seq domain.Sequence, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s data: %w", t, err)
	}
	return Event{Type: t, DiscussionId: discussionId, MutationId: mutationId, Sequence: seq, Data: raw}, nil
}

// ReplyCreated data is a domain.Reply.
func (e *Event) Reply() (domain.Reply, error) {
	var r domain.Reply
	err := e.decode(ReplyCreated, &r)
	return r, err
}

// LikeCountChanged data is a LikeResponse.
func (e *Event) Like() (LikeResponse, error) {
	var l LikeResponse
	err := e.decode(LikeCountChanged, &l)
	return l, err
}

// DiscussionUpdated data is a domain.Discussion.
func (e *Event) Discussion() (domain.Discussion, error) {
	var d domain.Discussion
	err := e.decode(DiscussionUpdated, &d)
	return d, err
}

func (e *Event) Removed() (ReplyRemovedData, error) {
	var r ReplyRemovedData
	err := e.decode(ReplyRemoved, &r)
	return r, err
}

func (e *Event) decode(want EventType, out any) error {
	if e.Type != want {
		return fmt.Errorf("event is %s, not %s", e.Type, want)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", e.Type, err)
	}
	return nil
}

type RoomOp string

const (
	OpJoin  RoomOp = "join"
	OpLeave RoomOp = "leave"
)

// RoomRequest is the upstream realtime frame.
type RoomRequest struct {
	Op           RoomOp              `json:"op"`
	DiscussionId domain.DiscussionId `json:"discussionId"`
}
