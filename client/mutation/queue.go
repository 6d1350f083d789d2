// Package mutation tracks locally initiated mutations from submission to settlement
// and applies their tentative effects to the thread store.
package mutation

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/itchan-dev/threadsync/client/threadstore"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
	"github.com/itchan-dev/threadsync/shared/validation"
)

const TempIdPrefix = "tmp-"

// Store is the part of the thread store the queue reads and writes tentatively.
type Store interface {
	DiscussionId() domain.DiscussionId
	Entry(id domain.ReplyId) (threadstore.Entry, bool)
	Depth(id domain.ReplyId) int
	HasTarget(targetId string) bool
	Resolve(id domain.ReplyId) domain.ReplyId
	Likes(targetId string) domain.LikeSet
	ConfirmedLikes(targetId string) domain.LikeSet
	InsertTentative(r domain.Reply) error
	RemoveTentative(tempId domain.ReplyId) ([]domain.ReplyId, error)
	SetTentativeLike(targetId string, user domain.UserId, liked bool)
	ClearTentativeLike(targetId string)
}

type Options struct {
	Sync   config.Sync
	Thread config.Thread
	Clock  func() time.Time
	// id generators, replaceable in tests
	NewMutationId func() domain.MutationId
	NewTempId     func() domain.ReplyId
}

// Result lists what a queue operation changed.
type Result struct {
	// Resolved holds mutations that reached Confirmed or Failed, the addressed one first.
	Resolved []*domain.PendingMutation
	// Dispatch holds mutations whose network call must start now.
	Dispatch []*domain.PendingMutation
}

func (r *Result) Merge(o Result) {
	r.Resolved = append(r.Resolved, o.Resolved...)
	r.Dispatch = append(r.Dispatch, o.Dispatch...)
}

// lane serializes mutations on one target. For like toggles active is the call in flight.
// For reply creation active is the create itself and waiting holds replies to it.
type lane struct {
	active  *domain.PendingMutation
	waiting []*domain.PendingMutation
}

type Queue struct {
	store   Store
	content *validation.Content
	opts    Options

	mutations map[domain.MutationId]*domain.PendingMutation
	lanes     map[string]*lane
	byTemp    map[domain.ReplyId]*domain.PendingMutation
}

func New(store Store, opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewMutationId == nil {
		opts.NewMutationId = uuid.NewString
	}
	if opts.NewTempId == nil {
		opts.NewTempId = func() domain.ReplyId { return TempIdPrefix + ulid.Make().String() }
	}
	return &Queue{
		store:     store,
		content:   validation.NewContent(opts.Thread.MaxContentLength),
		opts:      opts,
		mutations: make(map[domain.MutationId]*domain.PendingMutation),
		lanes:     make(map[string]*lane),
		byTemp:    make(map[domain.ReplyId]*domain.PendingMutation),
	}
}

func (q *Queue) Get(id domain.MutationId) (*domain.PendingMutation, bool) {
	m, ok := q.mutations[id]
	return m, ok
}

// Pending returns unresolved mutations ordered by submission.
func (q *Queue) Pending() []*domain.PendingMutation {
	var out []*domain.PendingMutation
	for _, m := range q.mutations {
		if m.Status == domain.Pending {
			out = append(out, m)
		}
	}
	sortBySubmission(out)
	return out
}

// Len counts tracked mutations, settled ones inside the grace window included.
func (q *Queue) Len() int {
	return len(q.mutations)
}

// CreateReply inserts a tentative reply and returns its mutation. The reply is
// dispatched at once unless its parent is itself still tentative.
func (q *Queue) CreateReply(author domain.UserRef, content string, parentId domain.ReplyId) (*domain.PendingMutation, Result, error) {
	text, err := q.content.Check(content)
	if err != nil {
		return nil, Result{}, err
	}

	var parent threadstore.Entry
	if parentId != "" {
		parentId = q.store.Resolve(parentId)
		var ok bool
		parent, ok = q.store.Entry(parentId)
		if !ok || parent.Removed {
			return nil, Result{}, &internal_errors.ValidationError{Field: "parentReply", Message: "reply to a missing reply"}
		}
		if q.opts.Thread.DepthMode == config.DepthReject && q.opts.Thread.MaxDepth > 0 &&
			q.store.Depth(parentId)+1 > q.opts.Thread.MaxDepth {
			return nil, Result{}, &internal_errors.ValidationError{Field: "parentReply", Message: fmt.Sprintf("replies nest at most %d levels", q.opts.Thread.MaxDepth)}
		}
	}

	now := q.opts.Clock()
	m := &domain.PendingMutation{
		Id:           q.opts.NewMutationId(),
		Kind:         domain.CreateReply,
		DiscussionId: q.store.DiscussionId(),
		SubmittedAt:  now,
		Status:       domain.Pending,
	}
	tempId := q.opts.NewTempId()
	m.TargetId = tempId
	m.Create = &domain.CreateReplyPayload{Content: content, Text: text, ParentReplyId: parentId, TempId: tempId}

	err = q.store.InsertTentative(domain.Reply{
		Id:            tempId,
		DiscussionId:  m.DiscussionId,
		ParentReplyId: parentId,
		Author:        author,
		Content:       text,
		CreatedAt:     now,
		MutationId:    m.Id,
	})
	if err != nil {
		return nil, Result{}, fmt.Errorf("insert tentative reply: %w", err)
	}

	q.mutations[m.Id] = m
	q.byTemp[tempId] = m
	q.lanes[tempId] = &lane{active: m}

	var res Result
	if parent.Tentative {
		l := q.lanes[parentId]
		l.waiting = append(l.waiting, m)
	} else {
		m.DispatchedAt = now
		res.Dispatch = append(res.Dispatch, m)
	}
	return m, res, nil
}

// ToggleLike flips user's membership on target immediately. A toggle on a target
// with a call in flight waits behind it.
func (q *Queue) ToggleLike(user domain.UserId, targetId string) (*domain.PendingMutation, Result, error) {
	targetId = q.store.Resolve(targetId)
	if !q.store.HasTarget(targetId) {
		return nil, Result{}, &internal_errors.ValidationError{Field: "target", Message: "like a missing post"}
	}
	if e, ok := q.store.Entry(targetId); ok && (e.Tentative || e.Removed) {
		return nil, Result{}, &internal_errors.ValidationError{Field: "target", Message: "post is not available for likes"}
	}

	previous := q.store.Likes(targetId).Has(user)
	now := q.opts.Clock()
	m := &domain.PendingMutation{
		Id:           q.opts.NewMutationId(),
		Kind:         domain.ToggleLike,
		DiscussionId: q.store.DiscussionId(),
		TargetId:     targetId,
		Like:         &domain.ToggleLikePayload{User: user, Liked: !previous, Previous: previous},
		SubmittedAt:  now,
		Status:       domain.Pending,
	}
	q.mutations[m.Id] = m
	q.store.SetTentativeLike(targetId, user, !previous)

	var res Result
	l, ok := q.lanes[targetId]
	if !ok {
		l = &lane{}
		q.lanes[targetId] = l
	}
	if l.active == nil {
		l.active = m
		m.DispatchedAt = now
		res.Dispatch = append(res.Dispatch, m)
	} else {
		l.waiting = append(l.waiting, m)
	}
	return m, res, nil
}

// Confirm resolves a dispatched mutation as Confirmed. The store must already hold
// the server's version. ok is false when the mutation is unknown or already resolved.
func (q *Queue) Confirm(id domain.MutationId) (res Result, ok bool) {
	m, found := q.mutations[id]
	if !found || m.Status != domain.Pending || !m.Dispatched() {
		return Result{}, false
	}
	q.resolve(m, domain.Confirmed, nil)
	res.Resolved = append(res.Resolved, m)

	switch m.Kind {
	case domain.CreateReply:
		l := q.lanes[m.TargetId]
		delete(q.lanes, m.TargetId)
		delete(q.byTemp, m.TargetId)
		if l != nil {
			now := q.opts.Clock()
			for _, w := range l.waiting {
				w.DispatchedAt = now
				res.Dispatch = append(res.Dispatch, w)
			}
		}
	case domain.ToggleLike:
		res.Merge(q.advanceLike(m.TargetId))
	}
	return res, true
}

// Fail resolves a mutation as Failed and rolls back exactly its tentative effect.
func (q *Queue) Fail(id domain.MutationId, cause error) (res Result, ok bool) {
	m, found := q.mutations[id]
	if !found || m.Status != domain.Pending {
		return Result{}, false
	}
	q.resolve(m, domain.Failed, cause)
	res.Resolved = append(res.Resolved, m)

	switch m.Kind {
	case domain.CreateReply:
		delete(q.lanes, m.TargetId)
		delete(q.byTemp, m.TargetId)
		removed, _ := q.store.RemoveTentative(m.TargetId)
		for _, tempId := range removed {
			child, ok := q.byTemp[tempId]
			if !ok || child == m {
				continue
			}
			q.resolve(child, domain.Failed, fmt.Errorf("parent reply failed: %w", cause))
			delete(q.lanes, tempId)
			delete(q.byTemp, tempId)
			res.Resolved = append(res.Resolved, child)
		}
		if !m.Dispatched() {
			// waiting under a tentative parent that is still alive
			q.unwait(m)
		}
	case domain.ToggleLike:
		l := q.lanes[m.TargetId]
		if l != nil && l.active != m {
			// a waiting toggle timed out; drop it from the lane
			l.waiting = slices.DeleteFunc(l.waiting, func(w *domain.PendingMutation) bool { return w == m })
			desired := l.active.Like.Liked
			if n := len(l.waiting); n > 0 {
				desired = l.waiting[n-1].Like.Liked
			}
			q.store.SetTentativeLike(m.TargetId, m.Like.User, desired)
			return res, true
		}
		res.Merge(q.advanceLike(m.TargetId))
	}
	return res, true
}

func (q *Queue) unwait(m *domain.PendingMutation) {
	l, ok := q.lanes[m.Create.ParentReplyId]
	if !ok {
		return
	}
	l.waiting = slices.DeleteFunc(l.waiting, func(w *domain.PendingMutation) bool { return w == m })
}

// advanceLike runs after the in-flight toggle on target resolved. Waiting toggles
// collapse into the last one, which is sent only if it differs from confirmed membership.
func (q *Queue) advanceLike(targetId string) Result {
	var res Result
	l, ok := q.lanes[targetId]
	if !ok {
		return res
	}
	l.active = nil
	if len(l.waiting) == 0 {
		delete(q.lanes, targetId)
		q.store.ClearTentativeLike(targetId)
		return res
	}

	last := l.waiting[len(l.waiting)-1]
	for _, w := range l.waiting[:len(l.waiting)-1] {
		q.resolve(w, domain.Confirmed, nil)
		res.Resolved = append(res.Resolved, w)
	}
	l.waiting = nil

	if q.store.ConfirmedLikes(targetId).Has(last.Like.User) == last.Like.Liked {
		q.resolve(last, domain.Confirmed, nil)
		res.Resolved = append(res.Resolved, last)
		delete(q.lanes, targetId)
		q.store.ClearTentativeLike(targetId)
		return res
	}

	l.active = last
	last.DispatchedAt = q.opts.Clock()
	res.Dispatch = append(res.Dispatch, last)
	return res
}

func (q *Queue) resolve(m *domain.PendingMutation, status domain.MutationStatus, cause error) {
	m.Status = status
	m.Outcome = status
	m.Err = cause
	m.ResolvedAt = q.opts.Clock()
}

// Expire fails mutations without a response within the response timeout, and any
// mutation older than the absolute bound.
func (q *Queue) Expire(now time.Time) Result {
	var expired []*domain.PendingMutation
	for _, m := range q.mutations {
		if m.Status != domain.Pending {
			continue
		}
		if (m.Dispatched() && now.Sub(m.DispatchedAt) >= q.opts.Sync.ResponseTimeout) ||
			now.Sub(m.SubmittedAt) >= q.opts.Sync.MaxPendingAge {
			expired = append(expired, m)
		}
	}
	sortBySubmission(expired)

	var res Result
	for _, m := range expired {
		if r, ok := q.Fail(m.Id, internal_errors.ErrTimeout); ok {
			res.Merge(r)
		}
	}
	return res
}

// Settle marks a resolved mutation terminal, e.g. when its duplicate confirmation arrives.
func (q *Queue) Settle(id domain.MutationId) {
	if m, ok := q.mutations[id]; ok && m.Resolved() {
		m.Status = domain.Settled
	}
}

// Sweep settles resolved mutations and forgets settled ones past the grace window.
func (q *Queue) Sweep(now time.Time) {
	for id, m := range q.mutations {
		switch m.Status {
		case domain.Confirmed, domain.Failed:
			m.Status = domain.Settled
		case domain.Settled:
			if now.Sub(m.ResolvedAt) >= q.opts.Sync.SettleGrace {
				delete(q.mutations, id)
			}
		}
	}
}

func sortBySubmission(ms []*domain.PendingMutation) {
	slices.SortFunc(ms, func(a, b *domain.PendingMutation) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		if a.Id < b.Id {
			return -1
		}
		if a.Id > b.Id {
			return 1
		}
		return 0
	})
}
