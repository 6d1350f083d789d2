package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/itchan-dev/threadsync/client/auth"
	"github.com/itchan-dev/threadsync/client/metrics"
	"github.com/itchan-dev/threadsync/client/mutation"
	"github.com/itchan-dev/threadsync/client/realtime"
	"github.com/itchan-dev/threadsync/client/threadstore"
	"github.com/itchan-dev/threadsync/client/tree"
	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
	"github.com/itchan-dev/threadsync/shared/logger"
)

var (
	ErrStopped     = errors.New("engine stopped")
	ErrNotOpen     = errors.New("discussion is not open")
	ErrAlreadyOpen = errors.New("discussion is already open")
)

// ForumAPI is the REST collaborator.
type ForumAPI interface {
	GetDiscussion(ctx context.Context, id domain.DiscussionId) (api.DiscussionResponse, error)
	GetReplies(ctx context.Context, id domain.DiscussionId, page, limit int) (api.RepliesPage, error)
	CreateReply(ctx context.Context, id domain.DiscussionId, req api.CreateReplyRequest) (api.ReplyResponse, error)
	LikeDiscussion(ctx context.Context, id domain.DiscussionId, req api.LikeRequest) (api.LikeResponse, error)
	LikeReply(ctx context.Context, id domain.ReplyId, req api.LikeRequest) (api.LikeResponse, error)
}

// Outcome is delivered once per submitted mutation.
type Outcome struct {
	Mutation domain.PendingMutation
	Err      error
}

// Rejected reports whether the server refused the mutation, as opposed to the call
// failing or timing out. Retrying the same input will not help.
func (o Outcome) Rejected() bool {
	var netErr *internal_errors.NetworkError
	return errors.As(o.Err, &netErr) && netErr.Rejected()
}

// Ticket tracks a submitted mutation. Done receives its outcome and is then closed.
type Ticket struct {
	MutationId domain.MutationId
	// TempId is the tentative reply id of a create, empty for likes.
	TempId domain.ReplyId
	Done   <-chan Outcome
}

type session struct {
	id  domain.DiscussionId
	rec *Reconciler
}

// Engine owns every open discussion and runs all merges on one goroutine. Public
// methods hand work to that goroutine and may be called from anywhere once Run started.
type Engine struct {
	cfg      config.Public
	api      ForumAPI
	channel  realtime.Channel
	identity auth.Identity
	opts     mutation.Options

	projector *tree.Projector

	inbox   chan func()
	changes chan domain.DiscussionId
	running chan struct{}
	stopped chan struct{}
	runCtx  context.Context

	// below is owned by the loop goroutine
	sessions map[domain.DiscussionId]*session
	// closed sessions kept ticking until their pending mutations resolve
	detached []*session
	waiters  map[domain.MutationId]chan Outcome

	degraded atomic.Bool

	log *slog.Logger
}

// New wires an engine. opts may override the clock and id generators.
func New(cfg config.Public, forum ForumAPI, channel realtime.Channel, identity auth.Identity, opts mutation.Options) *Engine {
	opts.Sync = cfg.Sync
	opts.Thread = cfg.Thread
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		cfg:       cfg,
		api:       forum,
		channel:   channel,
		identity:  identity,
		opts:      opts,
		projector: tree.NewProjector(cfg.Thread),
		inbox:     make(chan func(), 64),
		changes:   make(chan domain.DiscussionId, 64),
		running:   make(chan struct{}),
		stopped:   make(chan struct{}),
		sessions:  make(map[domain.DiscussionId]*session),
		waiters:   make(map[domain.MutationId]chan Outcome),
		log:       logger.Component("reconcile"),
	}
}

// Run processes work until ctx is done. It must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	close(e.running)
	defer close(e.stopped)

	ticker := time.NewTicker(e.cfg.Sync.TickInterval)
	defer ticker.Stop()

	events := e.channel.Events()
	states := e.channel.States()
	e.log.Info("engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped", "open", len(e.sessions))
			return ctx.Err()
		case fn := <-e.inbox:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleEvent(ev)
		case sc, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			e.handleState(sc)
		case <-ticker.C:
			e.tick()
		}
	}
}

// Changes receives the id of a discussion whose view may have changed.
// Notifications are dropped while the buffer is full.
func (e *Engine) Changes() <-chan domain.DiscussionId {
	return e.changes
}

// Degraded reports that realtime updates stopped; Refresh is the way to catch up.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// Reconnect asks the realtime channel to try again after it degraded.
func (e *Engine) Reconnect() {
	e.channel.Reconnect()
}

// Open starts tracking a discussion: joins its room and loads its replies.
func (e *Engine) Open(ctx context.Context, id domain.DiscussionId) error {
	var s *session
	err := e.call(ctx, func() error {
		if _, ok := e.sessions[id]; ok {
			return ErrAlreadyOpen
		}
		s = e.newSession(id)
		e.sessions[id] = s
		return nil
	})
	if err != nil {
		return err
	}

	// join before fetching so nothing between the snapshot and the subscription is lost
	if err := e.channel.Join(id); err != nil {
		e.drop(id)
		return fmt.Errorf("join %s: %w", id, err)
	}
	snap, err := e.fetch(ctx, id)
	if err != nil {
		e.drop(id)
		e.channel.Leave(id)
		return err
	}
	return e.call(ctx, func() error {
		e.after(s, s.rec.ApplySnapshot(snap))
		return nil
	})
}

// Close stops tracking a discussion. Calls still in flight resolve against the
// detached store and their outcomes are still delivered, timeouts included.
func (e *Engine) Close(ctx context.Context, id domain.DiscussionId) error {
	if err := e.call(ctx, func() error {
		s, ok := e.sessions[id]
		if !ok {
			return ErrNotOpen
		}
		delete(e.sessions, id)
		if len(s.rec.Queue().Pending()) > 0 {
			e.detached = append(e.detached, s)
		}
		return nil
	}); err != nil {
		return err
	}
	return e.channel.Leave(id)
}

func (e *Engine) drop(id domain.DiscussionId) {
	e.post(func() { delete(e.sessions, id) })
}

func (e *Engine) newSession(id domain.DiscussionId) *session {
	return &session{id: id, rec: NewReconciler(threadstore.New(id), e.opts)}
}

// CreateReply shows the reply at once and sends it. parent is empty for a top-level reply.
func (e *Engine) CreateReply(ctx context.Context, id domain.DiscussionId, content string, parent domain.ReplyId) (*Ticket, error) {
	var t *Ticket
	err := e.call(ctx, func() error {
		s, user, err := e.prepare(id)
		if err != nil {
			return err
		}
		m, res, err := s.rec.CreateReply(user.Ref(), content, parent)
		if err != nil {
			return err
		}
		t = e.ticket(m)
		t.TempId = m.TargetId
		e.after(s, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ToggleLike flips the current user's like on the discussion or one of its replies.
func (e *Engine) ToggleLike(ctx context.Context, id domain.DiscussionId, target string) (*Ticket, error) {
	var t *Ticket
	err := e.call(ctx, func() error {
		s, user, err := e.prepare(id)
		if err != nil {
			return err
		}
		m, res, err := s.rec.ToggleLike(user.Id, target)
		if err != nil {
			return err
		}
		t = e.ticket(m)
		e.after(s, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) prepare(id domain.DiscussionId) (*session, domain.User, error) {
	user, ok := e.identity.CurrentUser()
	if !ok {
		return nil, user, internal_errors.ErrUnauthenticated
	}
	s, ok := e.sessions[id]
	if !ok {
		return nil, user, ErrNotOpen
	}
	return s, user, nil
}

func (e *Engine) ticket(m *domain.PendingMutation) *Ticket {
	done := make(chan Outcome, 1)
	e.waiters[m.Id] = done
	return &Ticket{MutationId: m.Id, Done: done}
}

// View projects the discussion for the current user. vs expansion is migrated
// from temporary ids to server ids on the way.
func (e *Engine) View(ctx context.Context, id domain.DiscussionId, vs *tree.ViewState) (tree.View, error) {
	var v tree.View
	err := e.call(ctx, func() error {
		s, ok := e.sessions[id]
		if !ok {
			return ErrNotOpen
		}
		if vs == nil {
			vs = tree.NewViewState()
		}
		store := s.rec.Store()
		vs.Migrate(store.Aliases())
		var me domain.UserId
		if user, ok := e.identity.CurrentUser(); ok {
			me = user.Id
		}
		v = e.projector.Project(store, vs, me)
		return nil
	})
	if err != nil {
		return tree.View{}, err
	}
	return v, nil
}

// Children returns the visible replies rendered directly under parent, or the
// top-level replies when parent is empty.
func (e *Engine) Children(ctx context.Context, id domain.DiscussionId, parent domain.ReplyId) ([]domain.Reply, error) {
	var out []domain.Reply
	err := e.call(ctx, func() error {
		s, ok := e.sessions[id]
		if !ok {
			return ErrNotOpen
		}
		if parent == "" {
			out = e.projector.TopLevel(s.rec.Store())
		} else {
			out = e.projector.ChildrenOf(s.rec.Store(), parent)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Pending lists the unresolved mutations of a discussion.
func (e *Engine) Pending(ctx context.Context, id domain.DiscussionId) ([]domain.PendingMutation, error) {
	var out []domain.PendingMutation
	err := e.call(ctx, func() error {
		s, ok := e.sessions[id]
		if !ok {
			return ErrNotOpen
		}
		for _, m := range s.rec.Queue().Pending() {
			out = append(out, *m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Refresh refetches every open discussion and merges the result.
func (e *Engine) Refresh(ctx context.Context) error {
	var ids []domain.DiscussionId
	if err := e.call(ctx, func() error {
		for id := range e.sessions {
			ids = append(ids, id)
		}
		return nil
	}); err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := e.refresh(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) refresh(ctx context.Context, id domain.DiscussionId) error {
	snap, err := e.fetch(ctx, id)
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues("error").Inc()
		e.log.Warn("refresh failed", "discussion", id, "error", err)
		return err
	}
	metrics.RefreshesTotal.WithLabelValues("ok").Inc()
	return e.call(ctx, func() error {
		s, ok := e.sessions[id]
		if !ok {
			// closed while fetching
			return nil
		}
		e.after(s, s.rec.ApplySnapshot(snap))
		return nil
	})
}

// fetch reads the discussion and every page of its replies.
func (e *Engine) fetch(ctx context.Context, id domain.DiscussionId) (threadstore.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Sync.ResponseTimeout)
	defer cancel()

	d, err := e.api.GetDiscussion(ctx, id)
	if err != nil {
		return threadstore.Snapshot{}, fmt.Errorf("fetch discussion %s: %w", id, err)
	}
	snap := threadstore.Snapshot{
		Discussion:    d.Discussion,
		Sequence:      d.Sequence,
		LikesSequence: d.LikesSequence,
	}
	limit := e.cfg.Thread.RepliesPageSize
	for page := 1; ; page++ {
		p, err := e.api.GetReplies(ctx, id, page, limit)
		if err != nil {
			return threadstore.Snapshot{}, fmt.Errorf("fetch replies of %s page %d: %w", id, page, err)
		}
		for _, r := range p.Replies {
			snap.Replies = append(snap.Replies, threadstore.VersionedReply{
				Reply:         r.Reply,
				Sequence:      r.Sequence,
				LikesSequence: r.LikesSequence,
				Removed:       r.Removed,
			})
		}
		if !p.HasMore() || len(p.Replies) == 0 {
			break
		}
	}
	return snap, nil
}

func (e *Engine) handleEvent(ev api.Event) {
	s, ok := e.sessions[ev.DiscussionId]
	if !ok {
		e.log.Debug("event for closed discussion dropped", "discussion", ev.DiscussionId, "type", ev.Type)
		return
	}
	e.after(s, s.rec.ApplyEvent(ev))
}

func (e *Engine) handleState(sc realtime.StateChange) {
	switch sc.State {
	case realtime.Connected:
		e.degraded.Store(false)
	case realtime.Reconnected:
		e.degraded.Store(false)
		e.log.Info("realtime reconnected, catching up", "open", len(e.sessions))
		for id := range e.sessions {
			go e.refresh(e.runCtx, id)
		}
	case realtime.Disconnected:
		e.log.Info("realtime disconnected", "attempt", sc.Attempt, "error", sc.Err)
	case realtime.Degraded:
		e.degraded.Store(true)
		e.log.Warn("realtime degraded, refresh manually", "error", sc.Err)
		for id := range e.sessions {
			e.notify(id)
		}
	}
}

func (e *Engine) tick() {
	now := e.opts.Clock()
	for _, s := range e.sessions {
		e.tickSession(s, now)
	}
	live := e.detached[:0]
	for _, s := range e.detached {
		e.tickSession(s, now)
		if len(s.rec.Queue().Pending()) > 0 {
			live = append(live, s)
		}
	}
	clear(e.detached[len(live):])
	e.detached = live
}

func (e *Engine) tickSession(s *session, now time.Time) {
	res := s.rec.Tick(now)
	if len(res.Resolved) > 0 || len(res.Dispatch) > 0 {
		e.after(s, res)
	}
}

// after delivers outcomes and starts the calls a merge made due.
func (e *Engine) after(s *session, res mutation.Result) {
	for _, m := range res.Resolved {
		if done, ok := e.waiters[m.Id]; ok {
			done <- Outcome{Mutation: *m, Err: m.Err}
			close(done)
			delete(e.waiters, m.Id)
		}
	}
	for _, m := range res.Dispatch {
		e.dispatch(s, m)
	}
	e.notify(s.id)
}

// dispatch runs the REST call of m off the loop and posts the answer back.
// The session may be closed by then; the answer still applies to its store.
func (e *Engine) dispatch(s *session, m *domain.PendingMutation) {
	ctx, cancel := context.WithTimeout(e.runCtx, e.cfg.Sync.ResponseTimeout)
	id := m.Id
	switch m.Kind {
	case domain.CreateReply:
		req := s.rec.CreateRequest(m)
		go func() {
			defer cancel()
			resp, err := e.api.CreateReply(ctx, s.id, req)
			e.post(func() { e.after(s, s.rec.ApplyCreateResult(id, resp, err)) })
		}()
	case domain.ToggleLike:
		kind, target, req := s.rec.LikeRequest(m)
		go func() {
			defer cancel()
			var resp api.LikeResponse
			var err error
			if kind == api.TargetDiscussion {
				resp, err = e.api.LikeDiscussion(ctx, target, req)
			} else {
				resp, err = e.api.LikeReply(ctx, target, req)
			}
			e.post(func() { e.after(s, s.rec.ApplyLikeResult(id, resp, err)) })
		}()
	default:
		cancel()
	}
}

func (e *Engine) notify(id domain.DiscussionId) {
	select {
	case e.changes <- id:
	default:
	}
}

// post queues fn on the loop without waiting for it.
func (e *Engine) post(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.stopped:
	}
}

// call runs fn on the loop and waits for its result.
func (e *Engine) call(ctx context.Context, fn func() error) error {
	select {
	case <-e.running:
	case <-ctx.Done():
		return ctx.Err()
	}
	result := make(chan error, 1)
	select {
	case e.inbox <- func() { result <- fn() }:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
