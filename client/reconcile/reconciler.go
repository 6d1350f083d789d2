// Package reconcile merges REST responses, realtime events and local mutations into
// the thread store of each open discussion.
package reconcile

import (
	"errors"
	"log/slog"
	"time"

	"github.com/itchan-dev/threadsync/client/metrics"
	"github.com/itchan-dev/threadsync/client/mutation"
	"github.com/itchan-dev/threadsync/client/threadstore"
	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
	"github.com/itchan-dev/threadsync/shared/logger"
)

// Reconciler applies the merge rules for one discussion. It does no I/O: callers
// perform the calls listed in Result.Dispatch and feed the answers back.
// Not safe for concurrent use.
type Reconciler struct {
	store *threadstore.Store
	queue *mutation.Queue
	clock func() time.Time

	// realtime replies whose parent is not known yet, by parent id
	parked map[domain.ReplyId][]threadstore.VersionedReply

	log *slog.Logger
}

func NewReconciler(store *threadstore.Store, opts mutation.Options) *Reconciler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Reconciler{
		store:  store,
		queue:  mutation.New(store, opts),
		clock:  opts.Clock,
		parked: make(map[domain.ReplyId][]threadstore.VersionedReply),
		log:    logger.Component("reconcile").With("discussion", store.DiscussionId()),
	}
}

func (r *Reconciler) Store() *threadstore.Store {
	return r.store
}

func (r *Reconciler) Queue() *mutation.Queue {
	return r.queue
}

// Parked counts replies waiting for their parent.
func (r *Reconciler) Parked() int {
	n := 0
	for _, list := range r.parked {
		n += len(list)
	}
	return n
}

func (r *Reconciler) CreateReply(author domain.UserRef, content string, parent domain.ReplyId) (*domain.PendingMutation, mutation.Result, error) {
	m, res, err := r.queue.CreateReply(author, content, parent)
	if err != nil {
		return nil, res, err
	}
	metrics.PendingMutations.Inc()
	return m, res, nil
}

func (r *Reconciler) ToggleLike(user domain.UserId, target string) (*domain.PendingMutation, mutation.Result, error) {
	m, res, err := r.queue.ToggleLike(user, target)
	if err != nil {
		return nil, res, err
	}
	metrics.PendingMutations.Inc()
	r.observe(res)
	return m, res, nil
}

// CreateRequest builds the REST body for a create. A parent that was tentative at
// submission is addressed by the server id it got since.
func (r *Reconciler) CreateRequest(m *domain.PendingMutation) api.CreateReplyRequest {
	parent := m.Create.ParentReplyId
	if parent != "" {
		parent = r.store.Resolve(parent)
	}
	return api.CreateReplyRequest{
		Content:     m.Create.Text,
		ParentReply: parent,
		MutationId:  m.Id,
	}
}

func (r *Reconciler) LikeRequest(m *domain.PendingMutation) (api.TargetKind, string, api.LikeRequest) {
	kind := api.TargetReply
	if m.TargetId == r.store.DiscussionId() {
		kind = api.TargetDiscussion
	}
	return kind, m.TargetId, api.LikeRequest{Liked: m.Like.Liked, MutationId: m.Id}
}

// ApplyCreateResult handles the REST answer to a CreateReply call.
func (r *Reconciler) ApplyCreateResult(id domain.MutationId, resp api.ReplyResponse, err error) mutation.Result {
	if err != nil {
		return r.fail(id, err)
	}
	if resp.Reply.MutationId == "" {
		resp.Reply.MutationId = id
	}
	return r.observe(r.applyReply(threadstore.VersionedReply{
		Reply:         resp.Reply,
		Sequence:      resp.Sequence,
		LikesSequence: resp.LikesSequence,
		Removed:       resp.Removed,
	}))
}

// ApplyLikeResult handles the REST answer to a like call.
func (r *Reconciler) ApplyLikeResult(id domain.MutationId, resp api.LikeResponse, err error) mutation.Result {
	if err != nil {
		return r.fail(id, err)
	}
	return r.observe(r.applyLike(resp, id))
}

// ApplyEvent merges one realtime event. Events of other discussions are ignored.
func (r *Reconciler) ApplyEvent(ev api.Event) mutation.Result {
	if ev.DiscussionId != r.store.DiscussionId() {
		r.log.Debug("event for another discussion ignored", "event_discussion", ev.DiscussionId)
		return mutation.Result{}
	}

	var res mutation.Result
	switch ev.Type {
	case api.ReplyCreated:
		reply, err := ev.Reply()
		if err != nil {
			r.log.Warn("bad event dropped", "type", ev.Type, "error", err)
			return res
		}
		if reply.MutationId == "" {
			reply.MutationId = ev.MutationId
		}
		res = r.applyReply(threadstore.VersionedReply{Reply: reply, Sequence: ev.Sequence, LikesSequence: ev.Sequence})
	case api.LikeCountChanged:
		like, err := ev.Like()
		if err != nil {
			r.log.Warn("bad event dropped", "type", ev.Type, "error", err)
			return res
		}
		if like.Sequence == 0 {
			like.Sequence = ev.Sequence
		}
		res = r.applyLike(like, ev.MutationId)
	case api.DiscussionUpdated:
		d, err := ev.Discussion()
		if err != nil {
			r.log.Warn("bad event dropped", "type", ev.Type, "error", err)
			return res
		}
		r.note(r.store.UpdateDiscussion(d, ev.Sequence), d.Id)
	case api.ReplyRemoved:
		removed, err := ev.Removed()
		if err != nil {
			r.log.Warn("bad event dropped", "type", ev.Type, "error", err)
			return res
		}
		r.unpark(removed.ReplyId)
		r.note(r.store.Tombstone(removed.ReplyId, ev.Sequence), removed.ReplyId)
	default:
		r.log.Debug("unknown event ignored", "type", ev.Type)
	}
	return r.observe(res)
}

// ApplySnapshot merges a full REST fetch of the discussion. Replies carrying the id of
// a pending create confirm it; older versions than the stored ones are discarded.
func (r *Reconciler) ApplySnapshot(snap threadstore.Snapshot) mutation.Result {
	if !r.store.Loaded() && r.store.Len() == 0 {
		if err := r.store.Load(snap); err != nil {
			r.log.Warn("snapshot rejected", "error", err)
			return mutation.Result{}
		}
		for parent := range r.parked {
			if r.store.Has(parent) {
				r.adopt(parent)
			}
		}
		return mutation.Result{}
	}

	r.note(r.store.UpdateDiscussion(snap.Discussion, snap.Sequence), snap.Discussion.Id)
	r.note(r.store.SetLikeState(snap.Discussion.Id, snap.Discussion.Likes, snap.LikesSequence), snap.Discussion.Id)

	var res mutation.Result
	for _, vr := range snap.Replies {
		res.Merge(r.applyReply(vr))
	}
	return r.observe(res)
}

// Tick fails mutations that ran out of time, then settles and forgets resolved ones.
func (r *Reconciler) Tick(now time.Time) mutation.Result {
	res := r.queue.Expire(now)
	r.queue.Sweep(now)
	return r.observe(res)
}

func (r *Reconciler) fail(id domain.MutationId, cause error) mutation.Result {
	res, ok := r.queue.Fail(id, cause)
	if !ok {
		r.log.Debug("late failure ignored", "mutation", id, "error", cause)
		return mutation.Result{}
	}
	return r.observe(res)
}

// applyReply confirms the pending create the reply answers, or merges it as a remote change.
func (r *Reconciler) applyReply(vr threadstore.VersionedReply) mutation.Result {
	if m, ok := r.queue.Get(vr.Reply.MutationId); ok && m.Kind == domain.CreateReply {
		switch m.Status {
		case domain.Pending:
			if !m.Dispatched() {
				break
			}
			if err := r.store.ReplaceTentative(m.TargetId, vr.Reply, vr.Sequence, vr.LikesSequence); err != nil {
				r.log.Warn("tentative reply not replaced", "mutation", m.Id, "reply", vr.Reply.Id, "error", err)
			}
			res, _ := r.queue.Confirm(m.Id)
			if vr.Removed {
				r.note(r.store.Tombstone(vr.Reply.Id, vr.Sequence), vr.Reply.Id)
			}
			res.Merge(r.adopt(vr.Reply.Id))
			return res
		case domain.Confirmed, domain.Settled:
			r.queue.Settle(m.Id)
		}
	}
	return r.upsertRemote(vr)
}

func (r *Reconciler) upsertRemote(vr threadstore.VersionedReply) mutation.Result {
	var res mutation.Result
	err := r.store.UpsertReply(vr.Reply, vr.Sequence, vr.LikesSequence)
	switch {
	case err == nil:
		res = r.adopt(vr.Reply.Id)
	case errors.Is(err, threadstore.ErrUnknownParent):
		parent := vr.Reply.ParentReplyId
		r.parked[parent] = append(r.parked[parent], vr)
		r.log.Debug("reply parked until its parent arrives", "reply", vr.Reply.Id, "parent", parent)
		return res
	default:
		r.note(err, vr.Reply.Id)
	}
	if vr.Removed {
		r.note(r.store.Tombstone(vr.Reply.Id, vr.Sequence), vr.Reply.Id)
	}
	return res
}

func (r *Reconciler) adopt(parent domain.ReplyId) mutation.Result {
	var res mutation.Result
	kids, ok := r.parked[parent]
	if !ok {
		return res
	}
	delete(r.parked, parent)
	for _, vr := range kids {
		res.Merge(r.applyReply(vr))
	}
	return res
}

func (r *Reconciler) unpark(id domain.ReplyId) {
	for parent, list := range r.parked {
		for i, vr := range list {
			if vr.Reply.Id == id {
				r.parked[parent] = append(list[:i], list[i+1:]...)
				if len(r.parked[parent]) == 0 {
					delete(r.parked, parent)
				}
				return
			}
		}
	}
}

// applyLike stores the declared like set, then confirms the toggle it answers.
func (r *Reconciler) applyLike(l api.LikeResponse, id domain.MutationId) mutation.Result {
	r.note(r.store.SetLikeState(l.TargetId, l.Likes, l.Sequence), l.TargetId)

	m, ok := r.queue.Get(id)
	if !ok || m.Kind != domain.ToggleLike {
		return mutation.Result{}
	}
	switch m.Status {
	case domain.Pending:
		if res, ok := r.queue.Confirm(m.Id); ok {
			return res
		}
	case domain.Confirmed, domain.Settled:
		r.queue.Settle(m.Id)
	}
	return mutation.Result{}
}

// note logs a store write that did not apply. Stale writes are expected.
func (r *Reconciler) note(err error, id string) {
	switch {
	case err == nil:
	case errors.Is(err, internal_errors.ErrConflictDiscarded):
		metrics.ConflictsDiscardedTotal.Inc()
		r.log.Debug("stale write discarded", "id", id, "error", err)
	default:
		r.log.Warn("write not applied", "id", id, "error", err)
	}
}

func (r *Reconciler) observe(res mutation.Result) mutation.Result {
	for _, m := range res.Resolved {
		metrics.PendingMutations.Dec()
		metrics.MutationsTotal.WithLabelValues(m.Kind.String(), m.Outcome.String()).Inc()
		metrics.MutationLatency.WithLabelValues(m.Kind.String()).Observe(m.ResolvedAt.Sub(m.SubmittedAt).Seconds())
		if m.Outcome == domain.Failed {
			r.log.Info("mutation rolled back", "mutation", m.Id, "kind", m.Kind, "target", m.TargetId, "error", m.Err)
		}
	}
	return res
}
