package domain

import "time"

type MutationKind int

const (
	CreateReply MutationKind = iota
	ToggleLike
)

func (k MutationKind) String() string {
	switch k {
	case CreateReply:
		return "create_reply"
	case ToggleLike:
		return "toggle_like"
	}
	return "unknown"
}

type MutationStatus int

const (
	Pending MutationStatus = iota
	Confirmed
	Failed
	Settled
)

func (s MutationStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case Settled:
		return "settled"
	}
	return "unknown"
}

// CreateReplyPayload is the input of a CreateReply mutation.
type CreateReplyPayload struct {
	Content       string // as typed, handed back on failure
	Text          string // normalized, sent to the server
	ParentReplyId ReplyId
	TempId        ReplyId
}

// ToggleLikePayload records the membership the user asked for and the one shown before.
type ToggleLikePayload struct {
	User     UserId
	Liked    bool
	Previous bool
}

type PendingMutation struct {
	Id           MutationId
	Kind         MutationKind
	DiscussionId DiscussionId
	TargetId     string
	Create       *CreateReplyPayload
	Like         *ToggleLikePayload
	SubmittedAt  time.Time
	DispatchedAt time.Time // zero while waiting in its lane
	ResolvedAt   time.Time
	Status       MutationStatus
	// Outcome keeps Confirmed or Failed after the mutation is Settled.
	Outcome MutationStatus
	Err     error
}

func (m *PendingMutation) Dispatched() bool {
	return !m.DispatchedAt.IsZero()
}

func (m *PendingMutation) Resolved() bool {
	return m.Status != Pending
}

// Succeeded reports whether the mutation resolved as confirmed.
func (m *PendingMutation) Succeeded() bool {
	return m.Status == Confirmed || (m.Status == Settled && m.Outcome == Confirmed)
}
