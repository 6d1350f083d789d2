// Package threadstore holds the last server-confirmed state of one discussion,
// plus the tentative entries of mutations that are still in flight.
package threadstore

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
	"github.com/itchan-dev/threadsync/shared/logger"
)

var (
	ErrUnknownParent   = errors.New("parent reply is not known")
	ErrCycle           = errors.New("reply would be its own ancestor")
	ErrWrongDiscussion = errors.New("reply belongs to another discussion")
	ErrNotFound        = errors.New("reply not found")
	ErrNotTentative    = errors.New("reply is not tentative")
)

// VersionedReply is a reply with the sequences of its last body and like changes.
type VersionedReply struct {
	Reply         domain.Reply
	Sequence      domain.Sequence
	LikesSequence domain.Sequence
	Removed       bool
}

type Snapshot struct {
	Discussion    domain.Discussion
	Sequence      domain.Sequence
	LikesSequence domain.Sequence
	Replies       []VersionedReply
}

type entry struct {
	reply     domain.Reply
	seq       domain.Sequence
	likesSeq  domain.Sequence
	removed   bool
	tentative bool
}

type likeState struct {
	likes domain.LikeSet
	seq   domain.Sequence
}

type tentativeLike struct {
	user  domain.UserId
	liked bool
}

// Store is not safe for concurrent use; the reconcile loop is its only writer.
type Store struct {
	id domain.DiscussionId

	discussion         domain.Discussion
	discussionSeq      domain.Sequence
	discussionLikesSeq domain.Sequence
	loaded             bool

	replies  map[domain.ReplyId]*entry
	children map[domain.ReplyId][]domain.ReplyId // "" holds top-level replies
	aliases  map[domain.ReplyId]domain.ReplyId   // temporary id -> server id

	// like states and tombstones that arrived before the reply they target
	earlyLikes map[domain.ReplyId]likeState
	tombstones map[domain.ReplyId]domain.Sequence

	tentativeLikes map[string]tentativeLike

	log *slog.Logger
}

func New(id domain.DiscussionId) *Store {
	s := &Store{
		id:             id,
		tentativeLikes: make(map[string]tentativeLike),
		aliases:        make(map[domain.ReplyId]domain.ReplyId),
		log:            logger.Component("threadstore").With("discussion", id),
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.replies = make(map[domain.ReplyId]*entry)
	s.children = make(map[domain.ReplyId][]domain.ReplyId)
	s.earlyLikes = make(map[domain.ReplyId]likeState)
	s.tombstones = make(map[domain.ReplyId]domain.Sequence)
}

func (s *Store) DiscussionId() domain.DiscussionId {
	return s.id
}

func (s *Store) Loaded() bool {
	return s.loaded
}

// Load replaces the confirmed state with a REST snapshot. Removals and versions newer
// than the snapshot are kept. Tentative replies survive when their parent is still present.
func (s *Store) Load(snap Snapshot) error {
	if snap.Discussion.Id != s.id {
		return fmt.Errorf("load %s into store of %s: %w", snap.Discussion.Id, s.id, ErrWrongDiscussion)
	}

	var tentative []*entry
	for _, e := range s.replies {
		if e.tentative {
			tentative = append(tentative, e)
		}
	}
	slices.SortFunc(tentative, func(a, b *entry) int { return compareReplies(&a.reply, &b.reply) })

	// writes newer than the snapshot (events received while it was fetched) outlive the reset
	prev, prevSeq, prevLikesSeq := s.discussion, s.discussionSeq, s.discussionLikesSeq
	early, tombstones := s.earlyLikes, s.tombstones
	s.reset()
	s.earlyLikes, s.tombstones = early, tombstones

	s.discussion = snap.Discussion
	s.discussionSeq = snap.Sequence
	if prevSeq > snap.Sequence {
		s.discussion, s.discussionSeq = prev, prevSeq
	}
	s.discussion.Likes = snap.Discussion.Likes.Clone()
	s.discussionLikesSeq = snap.LikesSequence
	if prevLikesSeq > snap.LikesSequence {
		s.discussion.Likes, s.discussionLikesSeq = prev.Likes.Clone(), prevLikesSeq
	}
	s.loaded = true

	orphans := s.insertAll(snap.Replies)
	for _, r := range orphans {
		s.log.Warn("snapshot reply without parent skipped", "reply", r.Reply.Id, "parent", r.Reply.ParentReplyId)
	}

	for _, e := range tentative {
		if err := s.InsertTentative(e.reply); err != nil {
			s.log.Debug("tentative reply dropped on load", "reply", e.reply.Id, "error", err)
		}
	}
	return nil
}

// insertAll upserts replies parents first and returns the ones whose parent never showed up.
func (s *Store) insertAll(replies []VersionedReply) []VersionedReply {
	remaining := replies
	for len(remaining) > 0 {
		var next []VersionedReply
		for _, r := range remaining {
			err := s.upsert(r)
			if errors.Is(err, ErrUnknownParent) {
				next = append(next, r)
			}
		}
		if len(next) == len(remaining) {
			return next
		}
		remaining = next
	}
	return nil
}

func (s *Store) upsert(r VersionedReply) error {
	if err := s.UpsertReply(r.Reply, r.Sequence, r.LikesSequence); err != nil &&
		!errors.Is(err, internal_errors.ErrConflictDiscarded) {
		return err
	}
	if r.Removed {
		if err := s.Tombstone(r.Reply.Id, r.Sequence); err != nil &&
			!errors.Is(err, internal_errors.ErrConflictDiscarded) {
			return err
		}
	}
	return nil
}

// UpsertReply inserts a confirmed reply or overwrites an older version of it.
// seq versions the body, likesSeq the like set carried in r.Likes.
func (s *Store) UpsertReply(r domain.Reply, seq, likesSeq domain.Sequence) error {
	if r.DiscussionId != s.id {
		return fmt.Errorf("upsert %s: %w", r.Id, ErrWrongDiscussion)
	}
	if r.ParentReplyId == r.Id {
		return fmt.Errorf("upsert %s: %w", r.Id, ErrCycle)
	}
	e, ok := s.replies[r.Id]
	if !ok {
		if err := s.checkParent(r.Id, r.ParentReplyId); err != nil {
			return err
		}
		e = &entry{reply: r, seq: seq, likesSeq: likesSeq}
		e.reply.Likes = r.Likes.Clone()
		// removed before its creation reached us: kept as a placeholder for its children
		if tseq, ok := s.tombstones[r.Id]; ok && seq <= tseq {
			e.seq, e.removed = tseq, true
			e.reply.Content, e.reply.ContentHtml = "", ""
		}
		s.replies[r.Id] = e
		s.index(e)
		s.applyEarly(e)
		s.log.Debug("reply inserted", "reply", r.Id, "sequence", seq, "removed", e.removed)
		return nil
	}

	if e.removed {
		return fmt.Errorf("upsert removed %s: %w", r.Id, internal_errors.ErrConflictDiscarded)
	}

	applied := false
	if seq > e.seq || e.tentative {
		if r.ParentReplyId != e.reply.ParentReplyId {
			s.log.Warn("reply parent change ignored", "reply", r.Id, "parent", e.reply.ParentReplyId, "new_parent", r.ParentReplyId)
			r.ParentReplyId = e.reply.ParentReplyId
		}
		s.unindex(e)
		likes := e.reply.Likes
		e.reply = r
		e.reply.Likes = likes
		e.seq = seq
		e.tentative = false
		s.index(e)
		applied = true
	}
	if likesSeq > e.likesSeq {
		e.reply.Likes = r.Likes.Clone()
		e.likesSeq = likesSeq
		applied = true
	}
	if !applied {
		return fmt.Errorf("upsert %s at %d (have %d): %w", r.Id, seq, e.seq, internal_errors.ErrConflictDiscarded)
	}
	return nil
}

func (s *Store) checkParent(id, parent domain.ReplyId) error {
	if parent == "" {
		return nil
	}
	if _, ok := s.replies[parent]; !ok {
		return fmt.Errorf("reply %s under %s: %w", id, parent, ErrUnknownParent)
	}
	for p := parent; p != ""; {
		if p == id {
			return fmt.Errorf("reply %s under %s: %w", id, parent, ErrCycle)
		}
		e, ok := s.replies[p]
		if !ok {
			break
		}
		p = e.reply.ParentReplyId
	}
	return nil
}

func (s *Store) applyEarly(e *entry) {
	if early, ok := s.earlyLikes[e.reply.Id]; ok {
		delete(s.earlyLikes, e.reply.Id)
		if early.seq > e.likesSeq {
			e.reply.Likes = early.likes
			e.likesSeq = early.seq
		}
	}
}

// InsertTentative adds a locally created reply that has no server id yet.
func (s *Store) InsertTentative(r domain.Reply) error {
	if r.DiscussionId != s.id {
		return fmt.Errorf("insert %s: %w", r.Id, ErrWrongDiscussion)
	}
	if _, ok := s.replies[r.Id]; ok {
		return fmt.Errorf("insert %s: reply already present", r.Id)
	}
	if err := s.checkParent(r.Id, r.ParentReplyId); err != nil {
		return err
	}
	e := &entry{reply: r, tentative: true}
	e.reply.Likes = domain.NewLikeSet()
	s.replies[r.Id] = e
	s.index(e)
	return nil
}

// ReplaceTentative swaps a tentative reply for its confirmed version in place.
// Tentative children move under the server id and tempId stays resolvable via Resolve.
func (s *Store) ReplaceTentative(tempId domain.ReplyId, r domain.Reply, seq, likesSeq domain.Sequence) error {
	e, ok := s.replies[tempId]
	if !ok {
		return fmt.Errorf("replace %s: %w", tempId, ErrNotFound)
	}
	if !e.tentative {
		return fmt.Errorf("replace %s: %w", tempId, ErrNotTentative)
	}

	kids := s.children[tempId]
	delete(s.children, tempId)
	s.unindex(e)
	delete(s.replies, tempId)
	s.aliases[tempId] = r.Id

	err := s.UpsertReply(r, seq, likesSeq)
	if err != nil && !errors.Is(err, internal_errors.ErrConflictDiscarded) {
		return err
	}
	for _, kid := range kids {
		k := s.replies[kid]
		k.reply.ParentReplyId = r.Id
		s.index(k)
	}
	s.log.Debug("tentative reply confirmed", "temp", tempId, "reply", r.Id, "sequence", seq)
	return nil
}

// RemoveTentative drops a tentative reply and its tentative descendants.
// It returns the removed ids, descendants first.
func (s *Store) RemoveTentative(tempId domain.ReplyId) ([]domain.ReplyId, error) {
	e, ok := s.replies[tempId]
	if !ok {
		return nil, fmt.Errorf("remove %s: %w", tempId, ErrNotFound)
	}
	if !e.tentative {
		return nil, fmt.Errorf("remove %s: %w", tempId, ErrNotTentative)
	}
	var removed []domain.ReplyId
	for _, kid := range slices.Clone(s.children[tempId]) {
		ids, err := s.RemoveTentative(kid)
		if err != nil {
			return removed, err
		}
		removed = append(removed, ids...)
	}
	s.unindex(e)
	delete(s.children, tempId)
	delete(s.replies, tempId)
	return append(removed, tempId), nil
}

// SetLikeState replaces the like set of the discussion or a reply wholesale.
func (s *Store) SetLikeState(targetId string, likes domain.LikeSet, seq domain.Sequence) error {
	if targetId == s.id {
		if seq <= s.discussionLikesSeq {
			return fmt.Errorf("likes of %s at %d (have %d): %w", targetId, seq, s.discussionLikesSeq, internal_errors.ErrConflictDiscarded)
		}
		s.discussion.Likes = likes.Clone()
		s.discussionLikesSeq = seq
		return nil
	}

	e, ok := s.replies[targetId]
	if !ok {
		if early, ok := s.earlyLikes[targetId]; ok && seq <= early.seq {
			return fmt.Errorf("likes of %s at %d (have %d): %w", targetId, seq, early.seq, internal_errors.ErrConflictDiscarded)
		}
		s.earlyLikes[targetId] = likeState{likes: likes.Clone(), seq: seq}
		s.log.Debug("likes for unknown reply kept", "reply", targetId, "sequence", seq)
		return nil
	}
	if seq <= e.likesSeq {
		return fmt.Errorf("likes of %s at %d (have %d): %w", targetId, seq, e.likesSeq, internal_errors.ErrConflictDiscarded)
	}
	e.reply.Likes = likes.Clone()
	e.likesSeq = seq
	return nil
}

// Tombstone marks a reply removed. Unknown ids are remembered so a late creation arrives removed.
func (s *Store) Tombstone(id domain.ReplyId, seq domain.Sequence) error {
	e, ok := s.replies[id]
	if !ok {
		if seq > s.tombstones[id] {
			s.tombstones[id] = seq
		}
		return nil
	}
	if e.removed {
		return fmt.Errorf("tombstone %s: %w", id, internal_errors.ErrConflictDiscarded)
	}
	if seq < e.seq {
		return fmt.Errorf("tombstone %s at %d (have %d): %w", id, seq, e.seq, internal_errors.ErrConflictDiscarded)
	}
	e.removed = true
	e.seq = seq
	s.tombstones[id] = seq
	s.log.Debug("reply removed", "reply", id, "sequence", seq)
	return nil
}

// UpdateDiscussion overwrites the discussion body; likes are versioned separately.
func (s *Store) UpdateDiscussion(d domain.Discussion, seq domain.Sequence) error {
	if d.Id != s.id {
		return fmt.Errorf("update discussion %s: %w", d.Id, ErrWrongDiscussion)
	}
	if seq <= s.discussionSeq {
		return fmt.Errorf("discussion %s at %d (have %d): %w", d.Id, seq, s.discussionSeq, internal_errors.ErrConflictDiscarded)
	}
	likes := s.discussion.Likes
	s.discussion = d
	s.discussion.Likes = likes
	s.discussionSeq = seq
	s.loaded = true
	return nil
}

// SetTentativeLike overrides user's membership on target until cleared.
func (s *Store) SetTentativeLike(targetId string, user domain.UserId, liked bool) {
	s.tentativeLikes[targetId] = tentativeLike{user: user, liked: liked}
}

func (s *Store) ClearTentativeLike(targetId string) {
	delete(s.tentativeLikes, targetId)
}

func (s *Store) index(e *entry) {
	parent := e.reply.ParentReplyId
	kids := s.children[parent]
	i, _ := slices.BinarySearchFunc(kids, &e.reply, func(id domain.ReplyId, r *domain.Reply) int {
		return compareReplies(&s.replies[id].reply, r)
	})
	s.children[parent] = slices.Insert(kids, i, e.reply.Id)
}

func (s *Store) unindex(e *entry) {
	parent := e.reply.ParentReplyId
	kids := s.children[parent]
	if i := slices.Index(kids, e.reply.Id); i >= 0 {
		s.children[parent] = slices.Delete(kids, i, i+1)
	}
}

func compareReplies(a, b *domain.Reply) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	}
	return 0
}
