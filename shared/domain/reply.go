package domain

import "time"

type Reply struct {
	Id            ReplyId      `json:"id"`
	DiscussionId  DiscussionId `json:"discussionId"`
	ParentReplyId ReplyId      `json:"parentReply,omitempty"` // empty for top-level replies
	Author        UserRef      `json:"author"`
	Content       string       `json:"content"`
	ContentHtml   string       `json:"contentHtml,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	Likes         LikeSet      `json:"likes"`
	// MutationId is the client mutation that created the reply, if any.
	MutationId MutationId `json:"mutationId,omitempty"`
}

// Before reports whether r renders before o among siblings.
func (r *Reply) Before(o *Reply) bool {
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return r.CreatedAt.Before(o.CreatedAt)
	}
	return r.Id < o.Id
}

type ReplyCreationData struct {
	DiscussionId  DiscussionId
	ParentReplyId ReplyId
	Author        UserRef
	Content       string
	ContentHtml   string
	MutationId    MutationId
}
