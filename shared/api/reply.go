package api

import (
	"github.com/itchan-dev/threadsync/shared/domain"
)

// Request DTOs

type CreateReplyRequest struct {
	Content     string            `json:"content" validate:"required"`
	ParentReply domain.ReplyId    `json:"parentReply,omitempty"`
	MutationId  domain.MutationId `json:"mutationId,omitempty"`
}

// Response DTOs

// ReplyResponse is the canonical reply plus its versions.
type ReplyResponse struct {
	Reply         domain.Reply    `json:"reply"`
	Sequence      domain.Sequence `json:"sequence"`
	LikesSequence domain.Sequence `json:"likesSequence"`
	Removed       bool            `json:"removed,omitempty"`
}

type RepliesPage struct {
	Replies []ReplyResponse `json:"replies"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
	Total   int             `json:"total"`
}

// HasMore reports whether a later page exists.
func (p *RepliesPage) HasMore() bool {
	return p.Page*p.Limit < p.Total
}
