// Package memory keeps the reference forum in process memory. Every change in a
// discussion takes the next sequence of that discussion's room.
package memory

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
)

var (
	ErrDiscussionNotFound = &internal_errors.ErrorWithStatusCode{Message: "Discussion not found", StatusCode: http.StatusNotFound}
	ErrReplyNotFound      = &internal_errors.ErrorWithStatusCode{Message: "Reply not found", StatusCode: http.StatusNotFound}
	ErrParentNotFound     = &internal_errors.ErrorWithStatusCode{Message: "Parent reply not found", StatusCode: http.StatusUnprocessableEntity}
	ErrParentRemoved      = &internal_errors.ErrorWithStatusCode{Message: "Parent reply was removed", StatusCode: http.StatusUnprocessableEntity}
)

type Storage struct {
	mu          sync.Mutex
	discussions map[domain.DiscussionId]*room
	replies     map[domain.ReplyId]*room
	now         func() time.Time
	newId       func() string
}

type room struct {
	discussion domain.Discussion
	seq        domain.Sequence
	likesSeq   domain.Sequence
	last       domain.Sequence

	order      []*replyRecord
	byId       map[domain.ReplyId]*replyRecord
	byMutation map[domain.MutationId]*replyRecord
}

type replyRecord struct {
	reply    domain.Reply
	seq      domain.Sequence
	likesSeq domain.Sequence
	removed  bool
}

// Option overrides the clock or the id source, for tests.
type Option func(*Storage)

func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

func WithIds(newId func() string) Option {
	return func(s *Storage) { s.newId = newId }
}

func New(opts ...Option) *Storage {
	s := &Storage{
		discussions: make(map[domain.DiscussionId]*room),
		replies:     make(map[domain.ReplyId]*room),
		now:         time.Now,
		newId:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (r *room) next() domain.Sequence {
	r.last++
	return r.last
}

func (r *room) response() api.DiscussionResponse {
	d := r.discussion
	d.Likes = d.Likes.Clone()
	return api.DiscussionResponse{Discussion: d, Sequence: r.seq, LikesSequence: r.likesSeq, RoomSequence: r.last}
}

func (rec *replyRecord) response() api.ReplyResponse {
	reply := rec.reply
	reply.Likes = reply.Likes.Clone()
	if rec.removed {
		reply.Content, reply.ContentHtml = "", ""
	}
	return api.ReplyResponse{Reply: reply, Sequence: rec.seq, LikesSequence: rec.likesSeq, Removed: rec.removed}
}

func (s *Storage) CreateDiscussion(data domain.DiscussionCreationData) (api.DiscussionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &room{
		discussion: domain.Discussion{
			Id:        s.newId(),
			Title:     data.Title,
			Content:   data.Content,
			Author:    data.Author,
			CreatedAt: s.now().UTC(),
			Likes:     domain.NewLikeSet(),
			Tags:      data.Tags,
			Category:  data.Category,
		},
		byId:       make(map[domain.ReplyId]*replyRecord),
		byMutation: make(map[domain.MutationId]*replyRecord),
	}
	seq := r.next()
	r.seq, r.likesSeq = seq, seq
	s.discussions[r.discussion.Id] = r
	return r.response(), nil
}

func (s *Storage) GetDiscussion(id domain.DiscussionId) (api.DiscussionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.discussions[id]
	if !ok {
		return api.DiscussionResponse{}, ErrDiscussionNotFound
	}
	return r.response(), nil
}

func (s *Storage) UpdateDiscussion(id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.discussions[id]
	if !ok {
		return api.DiscussionResponse{}, ErrDiscussionNotFound
	}
	r.discussion.Title = data.Title
	r.discussion.Content = data.Content
	r.discussion.Tags = data.Tags
	r.discussion.Category = data.Category
	r.seq = r.next()
	return r.response(), nil
}

// CreateReply stores a reply. A second call with a mutation id already seen in the
// discussion returns the stored reply and created == false.
func (s *Storage) CreateReply(data domain.ReplyCreationData) (resp api.ReplyResponse, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.discussions[data.DiscussionId]
	if !ok {
		return api.ReplyResponse{}, false, ErrDiscussionNotFound
	}
	if data.MutationId != "" {
		if rec, ok := r.byMutation[data.MutationId]; ok {
			return rec.response(), false, nil
		}
	}
	if data.ParentReplyId != "" {
		parent, ok := r.byId[data.ParentReplyId]
		if !ok {
			return api.ReplyResponse{}, false, ErrParentNotFound
		}
		if parent.removed {
			return api.ReplyResponse{}, false, ErrParentRemoved
		}
	}

	seq := r.next()
	rec := &replyRecord{
		reply: domain.Reply{
			Id:            s.newId(),
			DiscussionId:  data.DiscussionId,
			ParentReplyId: data.ParentReplyId,
			Author:        data.Author,
			Content:       data.Content,
			ContentHtml:   data.ContentHtml,
			CreatedAt:     s.now().UTC(),
			Likes:         domain.NewLikeSet(),
			MutationId:    data.MutationId,
		},
		seq:      seq,
		likesSeq: seq,
	}
	r.order = append(r.order, rec)
	r.byId[rec.reply.Id] = rec
	if data.MutationId != "" {
		r.byMutation[data.MutationId] = rec
	}
	s.replies[rec.reply.Id] = r
	return rec.response(), true, nil
}

// GetReplies pages through replies in creation order, removed ones included as tombstones.
// Pages start at 1.
func (s *Storage) GetReplies(id domain.DiscussionId, page, limit int) (api.RepliesPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.discussions[id]
	if !ok {
		return api.RepliesPage{}, ErrDiscussionNotFound
	}
	out := api.RepliesPage{Replies: []api.ReplyResponse{}, Page: page, Limit: limit, Total: len(r.order)}
	from := (page - 1) * limit
	if from >= len(r.order) {
		return out, nil
	}
	to := min(from+limit, len(r.order))
	for _, rec := range r.order[from:to] {
		out.Replies = append(out.Replies, rec.response())
	}
	return out, nil
}

// SetLike sets user's membership on the target. Asking for the membership the user
// already has changes nothing and returns changed == false with the current version.
func (s *Storage) SetLike(kind api.TargetKind, targetId string, user domain.UserId, liked bool) (resp api.LikeResponse, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		r        *room
		likes    *domain.LikeSet
		likesSeq *domain.Sequence
	)
	switch kind {
	case api.TargetDiscussion:
		var ok bool
		if r, ok = s.discussions[targetId]; !ok {
			return api.LikeResponse{}, false, ErrDiscussionNotFound
		}
		likes, likesSeq = &r.discussion.Likes, &r.likesSeq
	case api.TargetReply:
		var ok bool
		if r, ok = s.replies[targetId]; !ok {
			return api.LikeResponse{}, false, ErrReplyNotFound
		}
		rec := r.byId[targetId]
		if rec.removed {
			return api.LikeResponse{}, false, ErrReplyNotFound
		}
		likes, likesSeq = &rec.reply.Likes, &rec.likesSeq
	default:
		return api.LikeResponse{}, false, &internal_errors.ValidationError{Field: "target", Message: "unknown like target"}
	}

	if likes.Has(user) != liked {
		*likes = likes.With(user, liked)
		*likesSeq = r.next()
		changed = true
	}
	return api.LikeResponse{
		TargetKind:   kind,
		TargetId:     targetId,
		DiscussionId: r.discussion.Id,
		Likes:        likes.Clone(),
		Sequence:     *likesSeq,
	}, changed, nil
}

// RemoveReply tombstones a reply. Removing it again returns changed == false.
func (s *Storage) RemoveReply(replyId domain.ReplyId) (resp api.ReplyResponse, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replies[replyId]
	if !ok {
		return api.ReplyResponse{}, false, ErrReplyNotFound
	}
	rec := r.byId[replyId]
	if !rec.removed {
		rec.removed = true
		rec.seq = r.next()
		changed = true
	}
	return rec.response(), changed, nil
}

// ForgetMutations drops mutation ids of replies created before cutoff from the dedupe
// index. A retry carrying a forgotten id creates a new reply.
func (s *Storage) ForgetMutations(cutoff time.Time) (forgotten, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.discussions {
		for id, rec := range r.byMutation {
			if rec.reply.CreatedAt.Before(cutoff) {
				delete(r.byMutation, id)
				forgotten++
			}
		}
		remaining += len(r.byMutation)
	}
	return forgotten, remaining
}
