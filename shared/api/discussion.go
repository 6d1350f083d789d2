package api

import (
	"github.com/itchan-dev/threadsync/shared/domain"
)

// Request DTOs

type CreateDiscussionRequest struct {
	Title    string   `json:"title" validate:"required"`
	Content  string   `json:"content" validate:"required"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

// UpdateDiscussionRequest replaces the editable fields of a discussion.
type UpdateDiscussionRequest struct {
	Title    string   `json:"title" validate:"required"`
	Content  string   `json:"content" validate:"required"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

// Response DTOs

// DiscussionResponse carries the discussion with the version of its last change.
type DiscussionResponse struct {
	Discussion domain.Discussion `json:"discussion"`
	Sequence   domain.Sequence   `json:"sequence"`
	// LikesSequence versions the like set separately from the discussion body.
	LikesSequence domain.Sequence `json:"likesSequence"`
	// RoomSequence is the latest sequence assigned in the discussion's room.
	RoomSequence domain.Sequence `json:"roomSequence"`
}
