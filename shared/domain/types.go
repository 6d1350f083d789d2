package domain

type (
	UserId       = int64
	DiscussionId = string
	ReplyId      = string
	MutationId   = string

	Tag      = string
	Category = string

	// Sequence is assigned by the server, monotonically increasing per discussion.
	Sequence = uint64
)
