package threadstore

import (
	"slices"

	"github.com/itchan-dev/threadsync/shared/domain"
)

// Entry is a read-only view of a stored reply. Likes include the tentative overlay.
type Entry struct {
	Reply     domain.Reply
	Sequence  domain.Sequence
	Removed   bool
	Tentative bool
}

func (s *Store) Entry(id domain.ReplyId) (Entry, bool) {
	e, ok := s.replies[s.Resolve(id)]
	if !ok {
		return Entry{}, false
	}
	r := e.reply
	r.Likes = s.effective(r.Id, e.reply.Likes)
	return Entry{Reply: r, Sequence: e.seq, Removed: e.removed, Tentative: e.tentative}, true
}

func (s *Store) Reply(id domain.ReplyId) (domain.Reply, bool) {
	e, ok := s.Entry(id)
	return e.Reply, ok
}

func (s *Store) Has(id domain.ReplyId) bool {
	_, ok := s.replies[id]
	return ok
}

// Discussion returns the discussion with the tentative like overlay applied.
func (s *Store) Discussion() domain.Discussion {
	d := s.discussion
	d.Likes = s.effective(s.id, s.discussion.Likes)
	d.Tags = slices.Clone(s.discussion.Tags)
	return d
}

// Likes returns the like set shown for target, tentative overlay included.
func (s *Store) Likes(targetId string) domain.LikeSet {
	return s.effective(targetId, s.ConfirmedLikes(targetId))
}

// ConfirmedLikes returns the last like set the server declared for target.
func (s *Store) ConfirmedLikes(targetId string) domain.LikeSet {
	if targetId == s.id {
		return s.discussion.Likes.Clone()
	}
	if e, ok := s.replies[s.Resolve(targetId)]; ok {
		return e.reply.Likes.Clone()
	}
	return domain.NewLikeSet()
}

func (s *Store) effective(targetId string, confirmed domain.LikeSet) domain.LikeSet {
	if tl, ok := s.tentativeLikes[targetId]; ok {
		return confirmed.With(tl.user, tl.liked)
	}
	return confirmed.Clone()
}

// HasTarget reports whether targetId is the discussion or a known reply.
func (s *Store) HasTarget(targetId string) bool {
	return targetId == s.id || s.Has(s.Resolve(targetId))
}

// Children returns the immediate children of parent ("" for top level) in
// createdAt order, removed ones included.
func (s *Store) Children(parent domain.ReplyId) []domain.ReplyId {
	if parent != "" {
		parent = s.Resolve(parent)
	}
	return slices.Clone(s.children[parent])
}

// Depth is 1 for top-level replies, 0 for unknown ids.
func (s *Store) Depth(id domain.ReplyId) int {
	depth := 0
	for p := s.Resolve(id); p != ""; {
		e, ok := s.replies[p]
		if !ok {
			return depth
		}
		depth++
		p = e.reply.ParentReplyId
	}
	return depth
}

// Resolve maps a confirmed temporary id to its server id.
func (s *Store) Resolve(id domain.ReplyId) domain.ReplyId {
	for range len(s.aliases) + 1 {
		next, ok := s.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
	return id
}

// Aliases returns the temporary id -> server id pairs seen so far.
func (s *Store) Aliases() map[domain.ReplyId]domain.ReplyId {
	out := make(map[domain.ReplyId]domain.ReplyId, len(s.aliases))
	for k := range s.aliases {
		out[k] = s.Resolve(k)
	}
	return out
}

// Len counts stored replies, removed and tentative included.
func (s *Store) Len() int {
	return len(s.replies)
}
