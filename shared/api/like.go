package api

import (
	"github.com/itchan-dev/threadsync/shared/domain"
)

type TargetKind string

const (
	TargetDiscussion TargetKind = "discussion"
	TargetReply      TargetKind = "reply"
)

// LikeRequest asks for a membership state rather than a flip, so applying it twice is harmless.
type LikeRequest struct {
	Liked      bool              `json:"liked"`
	MutationId domain.MutationId `json:"mutationId,omitempty"`
}

// LikeResponse carries the full resulting like set, never a bare increment.
type LikeResponse struct {
	TargetKind   TargetKind          `json:"targetKind"`
	TargetId     string              `json:"targetId"`
	DiscussionId domain.DiscussionId `json:"discussionId"`
	Likes        domain.LikeSet      `json:"likes"`
	Sequence     domain.Sequence     `json:"sequence"`
}
