package reconcile

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itchan-dev/threadsync/client/mutation"
	"github.com/itchan-dev/threadsync/client/threadstore"
	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
)

// --- Helpers ---

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

const me domain.UserId = 42

var (
	author  = domain.UserRef{Id: me, Name: "me"}
	created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

var testSync = config.Sync{
	ResponseTimeout: 10 * time.Second,
	MaxPendingAge:   time.Minute,
	SettleGrace:     30 * time.Second,
	TickInterval:    time.Second,
}

type fixture struct {
	rec   *Reconciler
	store *threadstore.Store
	clock *fakeClock
}

func serverReply(id, parent string, minute int, mutationId string) domain.Reply {
	return domain.Reply{
		Id:            id,
		DiscussionId:  "D123",
		ParentReplyId: parent,
		Author:        domain.UserRef{Id: 7, Name: "ann"},
		Content:       "content of " + id,
		CreatedAt:     created.Add(time.Duration(minute) * time.Minute),
		Likes:         domain.NewLikeSet(),
		MutationId:    mutationId,
	}
}

func testOptions(clock *fakeClock) mutation.Options {
	mids, tids := 0, 0
	return mutation.Options{
		Sync:   testSync,
		Thread: config.Thread{MaxContentLength: 100},
		Clock:  clock.Now,
		NewMutationId: func() domain.MutationId {
			mids++
			return fmt.Sprintf("m%d", mids)
		},
		NewTempId: func() domain.ReplyId {
			tids++
			return fmt.Sprintf("tmp-%d", tids)
		},
	}
}

// newFixture loads D123 with the given replies, sequences counting up from 2.
func newFixture(t *testing.T, replies ...domain.Reply) *fixture {
	t.Helper()
	store := threadstore.New("D123")
	snap := threadstore.Snapshot{
		Discussion:    domain.Discussion{Id: "D123", Title: "t", Likes: domain.NewLikeSet()},
		Sequence:      1,
		LikesSequence: 1,
	}
	for i, r := range replies {
		seq := domain.Sequence(i + 2)
		snap.Replies = append(snap.Replies, threadstore.VersionedReply{Reply: r, Sequence: seq, LikesSequence: seq})
	}
	require.NoError(t, store.Load(snap))

	clock := &fakeClock{now: created.Add(time.Hour)}
	return &fixture{rec: NewReconciler(store, testOptions(clock)), store: store, clock: clock}
}

func withLikes(r domain.Reply, ids ...domain.UserId) domain.Reply {
	r.Likes = domain.NewLikeSet(ids...)
	return r
}

func replyCreated(t *testing.T, r domain.Reply, mutationId string, seq domain.Sequence) api.Event {
	t.Helper()
	ev, err := api.NewEvent(api.ReplyCreated, "D123", mutationId, seq, r)
	require.NoError(t, err)
	return ev
}

func likeChanged(t *testing.T, target string, seq domain.Sequence, mutationId string, ids ...domain.UserId) api.Event {
	t.Helper()
	ev, err := api.NewEvent(api.LikeCountChanged, "D123", mutationId, seq, likeResponse(target, seq, ids...))
	require.NoError(t, err)
	return ev
}

func likeResponse(target string, seq domain.Sequence, ids ...domain.UserId) api.LikeResponse {
	kind := api.TargetReply
	if target == "D123" {
		kind = api.TargetDiscussion
	}
	return api.LikeResponse{TargetKind: kind, TargetId: target, DiscussionId: "D123", Likes: domain.NewLikeSet(ids...), Sequence: seq}
}

func mids(ms []*domain.PendingMutation) []domain.MutationId {
	out := make([]domain.MutationId, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Id)
	}
	return out
}

var serverError = &internal_errors.NetworkError{Op: "like reply", StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}

// --- Tests ---

func TestCreateReplyConfirmation(t *testing.T) {
	tests := []struct {
		name      string
		echoFirst bool
	}{
		{name: "echo before REST response", echoFirst: true},
		{name: "REST response before echo", echoFirst: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			m, res, err := f.rec.CreateReply(author, "Great point!", "")
			require.NoError(t, err)
			require.Equal(t, []domain.MutationId{m.Id}, mids(res.Dispatch))
			assert.Equal(t, "Great point!", f.rec.CreateRequest(m).Content)

			confirmed := serverReply("R1", "", 60, "")
			confirmed.Content = "Great point!"
			echo := replyCreated(t, confirmed, m.Id, 5)
			rest := api.ReplyResponse{Reply: confirmed, Sequence: 5, LikesSequence: 5}

			var first, second mutation.Result
			if tt.echoFirst {
				first = f.rec.ApplyEvent(echo)
				second = f.rec.ApplyCreateResult(m.Id, rest, nil)
			} else {
				first = f.rec.ApplyCreateResult(m.Id, rest, nil)
				second = f.rec.ApplyEvent(echo)
			}

			assert.Equal(t, []domain.MutationId{m.Id}, mids(first.Resolved))
			assert.Empty(t, second.Resolved)
			assert.Equal(t, domain.Settled, m.Status)
			assert.Equal(t, domain.Confirmed, m.Outcome)

			assert.Equal(t, 1, f.store.Len())
			assert.Equal(t, []domain.ReplyId{"R1"}, f.store.Children(""))
			e, ok := f.store.Entry(m.TargetId)
			require.True(t, ok)
			assert.Equal(t, "R1", e.Reply.Id)
			assert.False(t, e.Tentative)
		})
	}

	t.Run("snapshot carrying the mutation id confirms the create", func(t *testing.T) {
		f := newFixture(t)
		m, _, err := f.rec.CreateReply(author, "hi", "")
		require.NoError(t, err)

		res := f.rec.ApplySnapshot(threadstore.Snapshot{
			Discussion: domain.Discussion{Id: "D123", Likes: domain.NewLikeSet()},
			Sequence:   1,
			Replies: []threadstore.VersionedReply{
				{Reply: serverReply("R9", "", 60, m.Id), Sequence: 9, LikesSequence: 9},
			},
		})

		assert.Equal(t, []domain.MutationId{m.Id}, mids(res.Resolved))
		assert.Equal(t, 1, f.store.Len())
		assert.True(t, f.store.Has("R9"))

		// the REST answer that follows is a duplicate
		res = f.rec.ApplyCreateResult(m.Id, api.ReplyResponse{Reply: serverReply("R9", "", 60, m.Id), Sequence: 9}, nil)
		assert.Empty(t, res.Resolved)
		assert.Equal(t, 1, f.store.Len())
	})

	t.Run("failure removes the reply and returns the content", func(t *testing.T) {
		f := newFixture(t)
		m, _, err := f.rec.CreateReply(author, "draft text", "")
		require.NoError(t, err)

		res := f.rec.ApplyCreateResult(m.Id, api.ReplyResponse{}, serverError)

		require.Equal(t, []domain.MutationId{m.Id}, mids(res.Resolved))
		assert.Equal(t, domain.Failed, m.Status)
		assert.Equal(t, "draft text", m.Create.Content)
		assert.ErrorIs(t, m.Err, serverError)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("reply to a tentative parent is sent under the parent's server id", func(t *testing.T) {
		f := newFixture(t)
		parent, _, err := f.rec.CreateReply(author, "parent", "")
		require.NoError(t, err)
		child, res, err := f.rec.CreateReply(author, "child", parent.TargetId)
		require.NoError(t, err)
		assert.Empty(t, res.Dispatch)

		res = f.rec.ApplyCreateResult(parent.Id, api.ReplyResponse{Reply: serverReply("R1", "", 60, parent.Id), Sequence: 5}, nil)

		require.Equal(t, []domain.MutationId{child.Id}, mids(res.Dispatch))
		assert.Equal(t, "R1", f.rec.CreateRequest(child).ParentReply)
		assert.Equal(t, []domain.ReplyId{child.TargetId}, f.store.Children("R1"))

		res = f.rec.ApplyCreateResult(child.Id, api.ReplyResponse{Reply: serverReply("R2", "R1", 61, child.Id), Sequence: 6}, nil)
		assert.Equal(t, []domain.MutationId{child.Id}, mids(res.Resolved))
		assert.Equal(t, []domain.ReplyId{"R2"}, f.store.Children("R1"))
		assert.Equal(t, 2, f.store.Len())
	})

	t.Run("echo of a timed out create is merged as a remote reply", func(t *testing.T) {
		f := newFixture(t)
		m, _, err := f.rec.CreateReply(author, "slow", "")
		require.NoError(t, err)

		f.clock.Advance(testSync.ResponseTimeout)
		res := f.rec.Tick(f.clock.Now())
		require.Equal(t, []domain.MutationId{m.Id}, mids(res.Resolved))
		assert.ErrorIs(t, m.Err, internal_errors.ErrTimeout)
		assert.Equal(t, 0, f.store.Len())

		res = f.rec.ApplyEvent(replyCreated(t, serverReply("R1", "", 60, ""), m.Id, 5))
		assert.Empty(t, res.Resolved)
		assert.Equal(t, 1, f.store.Len())
		assert.True(t, f.store.Has("R1"))

		// and the late REST answer changes nothing
		f.rec.ApplyCreateResult(m.Id, api.ReplyResponse{Reply: serverReply("R1", "", 60, m.Id), Sequence: 5}, nil)
		assert.Equal(t, 1, f.store.Len())
	})

	t.Run("late duplicate after the grace window stays single", func(t *testing.T) {
		f := newFixture(t)
		m, _, err := f.rec.CreateReply(author, "hi", "")
		require.NoError(t, err)
		f.rec.ApplyCreateResult(m.Id, api.ReplyResponse{Reply: serverReply("R1", "", 60, m.Id), Sequence: 5}, nil)

		f.rec.Tick(f.clock.Now())
		f.clock.Advance(testSync.SettleGrace)
		f.rec.Tick(f.clock.Now())
		_, tracked := f.rec.Queue().Get(m.Id)
		require.False(t, tracked)

		f.rec.ApplyEvent(replyCreated(t, serverReply("R1", "", 60, ""), m.Id, 5))
		assert.Equal(t, 1, f.store.Len())
	})
}

func TestToggleLikeReconciliation(t *testing.T) {
	r1 := withLikes(serverReply("R1", "", 1, ""), 1, 2)

	t.Run("failed toggle reverts to the original state", func(t *testing.T) {
		f := newFixture(t, r1)

		m, _, err := f.rec.ToggleLike(me, "R1")
		require.NoError(t, err)
		assert.True(t, f.store.Likes("R1").Has(me))
		assert.Equal(t, 3, f.store.Likes("R1").Count())

		res := f.rec.ApplyLikeResult(m.Id, api.LikeResponse{}, serverError)

		assert.Equal(t, []domain.MutationId{m.Id}, mids(res.Resolved))
		assert.False(t, f.store.Likes("R1").Has(me))
		assert.Equal(t, 2, f.store.Likes("R1").Count())
	})

	t.Run("server state wins on confirmation", func(t *testing.T) {
		f := newFixture(t, r1)
		m, _, err := f.rec.ToggleLike(me, "R1")
		require.NoError(t, err)

		// someone else unliked in the meantime
		f.rec.ApplyLikeResult(m.Id, likeResponse("R1", 10, 1, me), nil)

		assert.Equal(t, []domain.UserId{1, me}, f.store.Likes("R1").Ids())
	})

	t.Run("stale confirmation does not regress a newer remote state", func(t *testing.T) {
		f := newFixture(t, r1)
		m, _, err := f.rec.ToggleLike(me, "R1")
		require.NoError(t, err)

		f.rec.ApplyEvent(likeChanged(t, "R1", 11, "", 1, 2, 3, me))
		res := f.rec.ApplyLikeResult(m.Id, likeResponse("R1", 10, 1, 2, me), nil)

		assert.Equal(t, []domain.MutationId{m.Id}, mids(res.Resolved))
		assert.Equal(t, []domain.UserId{1, 2, 3, me}, f.store.Likes("R1").Ids())
	})

	t.Run("toggling twice returns to the original state under any interleaving", func(t *testing.T) {
		orders := map[string][]string{
			"rest only":            {"rest1", "rest2"},
			"echo first":           {"echo1", "rest1", "echo2", "rest2"},
			"echo after rest":      {"rest1", "echo1", "rest2", "echo2"},
			"second echo reversed": {"echo1", "rest1", "rest2", "echo2"},
		}
		for name, order := range orders {
			t.Run(name, func(t *testing.T) {
				f := newFixture(t, r1)
				first, res, err := f.rec.ToggleLike(me, "R1")
				require.NoError(t, err)
				require.Len(t, res.Dispatch, 1)
				second, res, err := f.rec.ToggleLike(me, "R1")
				require.NoError(t, err)
				require.Empty(t, res.Dispatch, "second toggle waits behind the first")
				assert.False(t, f.store.Likes("R1").Has(me))

				dispatched := 1
				for _, step := range order {
					var r mutation.Result
					switch step {
					case "rest1":
						r = f.rec.ApplyLikeResult(first.Id, likeResponse("R1", 10, 1, 2, me), nil)
					case "echo1":
						r = f.rec.ApplyEvent(likeChanged(t, "R1", 10, first.Id, 1, 2, me))
					case "rest2":
						r = f.rec.ApplyLikeResult(second.Id, likeResponse("R1", 11, 1, 2), nil)
					case "echo2":
						r = f.rec.ApplyEvent(likeChanged(t, "R1", 11, second.Id, 1, 2))
					}
					dispatched += len(r.Dispatch)
				}

				assert.Equal(t, 2, dispatched)
				assert.Equal(t, domain.Confirmed, first.Outcome)
				assert.Equal(t, domain.Confirmed, second.Outcome)
				assert.False(t, f.store.Likes("R1").Has(me))
				assert.Equal(t, 2, f.store.Likes("R1").Count())
			})
		}
	})

	t.Run("toggles that cancel out are not sent", func(t *testing.T) {
		f := newFixture(t, r1)
		first, _, err := f.rec.ToggleLike(me, "R1")
		require.NoError(t, err)
		second, _, err := f.rec.ToggleLike(me, "R1")
		require.NoError(t, err)
		third, _, err := f.rec.ToggleLike(me, "R1")
		require.NoError(t, err)

		res := f.rec.ApplyLikeResult(first.Id, likeResponse("R1", 10, 1, 2, me), nil)

		assert.Empty(t, res.Dispatch)
		assert.ElementsMatch(t, []domain.MutationId{first.Id, second.Id, third.Id}, mids(res.Resolved))
		assert.True(t, f.store.Likes("R1").Has(me))
	})

	t.Run("echo of a timed out toggle restores the server state", func(t *testing.T) {
		f := newFixture(t, r1)
		m, _, err := f.rec.ToggleLike(me, "R1")
		require.NoError(t, err)

		f.clock.Advance(testSync.ResponseTimeout)
		f.rec.Tick(f.clock.Now())
		require.False(t, f.store.Likes("R1").Has(me))

		f.rec.ApplyEvent(likeChanged(t, "R1", 10, m.Id, 1, 2, me))
		assert.True(t, f.store.Likes("R1").Has(me))
	})

	t.Run("discussion likes", func(t *testing.T) {
		f := newFixture(t)
		m, _, err := f.rec.ToggleLike(me, "D123")
		require.NoError(t, err)

		kind, target, req := f.rec.LikeRequest(m)
		assert.Equal(t, api.TargetDiscussion, kind)
		assert.Equal(t, "D123", target)
		assert.True(t, req.Liked)
		assert.Equal(t, m.Id, req.MutationId)

		f.rec.ApplyLikeResult(m.Id, likeResponse("D123", 4, me), nil)
		assert.True(t, f.store.Discussion().Likes.Has(me))
	})
}

func TestRemoteChanges(t *testing.T) {
	t.Run("remote reply is merged and ordered by creation", func(t *testing.T) {
		f := newFixture(t, serverReply("R1", "", 1, ""), serverReply("C3", "R1", 30, ""))

		f.rec.ApplyEvent(replyCreated(t, serverReply("C2", "R1", 20, ""), "", 10))
		f.rec.ApplyEvent(replyCreated(t, serverReply("C1", "R1", 10, ""), "", 11))

		assert.Equal(t, []domain.ReplyId{"C1", "C2", "C3"}, f.store.Children("R1"))
	})

	t.Run("duplicate event is dropped", func(t *testing.T) {
		f := newFixture(t)
		ev := replyCreated(t, serverReply("R1", "", 1, ""), "", 10)

		f.rec.ApplyEvent(ev)
		f.rec.ApplyEvent(ev)

		assert.Equal(t, 1, f.store.Len())
	})

	t.Run("reply is parked until its parent arrives", func(t *testing.T) {
		f := newFixture(t)

		f.rec.ApplyEvent(replyCreated(t, serverReply("G1", "C1", 3, ""), "", 12))
		f.rec.ApplyEvent(replyCreated(t, serverReply("C1", "R1", 2, ""), "", 11))
		assert.Equal(t, 2, f.rec.Parked())
		assert.Equal(t, 0, f.store.Len())

		f.rec.ApplyEvent(replyCreated(t, serverReply("R1", "", 1, ""), "", 10))

		assert.Equal(t, 0, f.rec.Parked())
		assert.Equal(t, 3, f.store.Len())
		assert.Equal(t, 3, f.store.Depth("G1"))
	})

	t.Run("removal drops a parked reply", func(t *testing.T) {
		f := newFixture(t)
		f.rec.ApplyEvent(replyCreated(t, serverReply("C1", "R1", 2, ""), "", 11))

		ev, err := api.NewEvent(api.ReplyRemoved, "D123", "", 12, api.ReplyRemovedData{ReplyId: "C1"})
		require.NoError(t, err)
		f.rec.ApplyEvent(ev)
		f.rec.ApplyEvent(replyCreated(t, serverReply("R1", "", 1, ""), "", 10))

		assert.Equal(t, 0, f.rec.Parked())
		assert.False(t, f.store.Has("C1"))
	})

	t.Run("removal tombstones a reply", func(t *testing.T) {
		f := newFixture(t, serverReply("R1", "", 1, ""))
		ev, err := api.NewEvent(api.ReplyRemoved, "D123", "", 12, api.ReplyRemovedData{ReplyId: "R1"})
		require.NoError(t, err)

		f.rec.ApplyEvent(ev)

		e, ok := f.store.Entry("R1")
		require.True(t, ok)
		assert.True(t, e.Removed)
	})

	t.Run("discussion update keeps the newest version", func(t *testing.T) {
		f := newFixture(t)
		newer, err := api.NewEvent(api.DiscussionUpdated, "D123", "", 5, domain.Discussion{Id: "D123", Title: "new"})
		require.NoError(t, err)
		older, err := api.NewEvent(api.DiscussionUpdated, "D123", "", 4, domain.Discussion{Id: "D123", Title: "old"})
		require.NoError(t, err)

		f.rec.ApplyEvent(newer)
		f.rec.ApplyEvent(older)

		assert.Equal(t, "new", f.store.Discussion().Title)
	})

	t.Run("events of other discussions are ignored", func(t *testing.T) {
		f := newFixture(t)
		ev := replyCreated(t, serverReply("R1", "", 1, ""), "", 10)
		ev.DiscussionId = "D999"

		f.rec.ApplyEvent(ev)

		assert.Equal(t, 0, f.store.Len())
	})
}

func TestApplySnapshot(t *testing.T) {
	t.Run("catch-up merges missed replies once and tombstones removed ones", func(t *testing.T) {
		f := newFixture(t, serverReply("R1", "", 1, ""), serverReply("R2", "", 2, ""))
		// R3 was already learned from a late event
		f.rec.ApplyEvent(replyCreated(t, serverReply("R3", "R1", 3, ""), "", 10))

		f.rec.ApplySnapshot(threadstore.Snapshot{
			Discussion:    domain.Discussion{Id: "D123", Title: "t", Likes: domain.NewLikeSet(me)},
			Sequence:      1,
			LikesSequence: 12,
			Replies: []threadstore.VersionedReply{
				{Reply: serverReply("R4", "R3", 4, ""), Sequence: 11, LikesSequence: 11},
				{Reply: serverReply("R1", "", 1, ""), Sequence: 2, LikesSequence: 2},
				{Reply: serverReply("R2", "", 2, ""), Sequence: 13, LikesSequence: 3, Removed: true},
				{Reply: serverReply("R3", "R1", 3, ""), Sequence: 10, LikesSequence: 10},
			},
		})

		assert.Equal(t, 4, f.store.Len())
		assert.Equal(t, []domain.ReplyId{"R3"}, f.store.Children("R1"))
		assert.Equal(t, []domain.ReplyId{"R4"}, f.store.Children("R3"))
		e, _ := f.store.Entry("R2")
		assert.True(t, e.Removed)
		assert.True(t, f.store.Discussion().Likes.Has(me))
	})

	t.Run("first snapshot loads an empty store and adopts parked replies", func(t *testing.T) {
		store := threadstore.New("D123")
		rec := NewReconciler(store, testOptions(&fakeClock{now: created}))
		rec.ApplyEvent(replyCreated(t, serverReply("C1", "R1", 2, ""), "", 11))

		rec.ApplySnapshot(threadstore.Snapshot{
			Discussion: domain.Discussion{Id: "D123", Likes: domain.NewLikeSet()},
			Sequence:   1,
			Replies: []threadstore.VersionedReply{
				{Reply: serverReply("R1", "", 1, ""), Sequence: 10, LikesSequence: 10},
			},
		})

		assert.True(t, store.Loaded())
		assert.Equal(t, 2, store.Len())
		assert.Equal(t, 0, rec.Parked())
	})

	t.Run("events received before the first snapshot are not lost to it", func(t *testing.T) {
		store := threadstore.New("D123")
		rec := NewReconciler(store, testOptions(&fakeClock{now: created}))

		removed, err := api.NewEvent(api.ReplyRemoved, "D123", "", 10, api.ReplyRemovedData{ReplyId: "R1"})
		require.NoError(t, err)
		rec.ApplyEvent(removed)
		rec.ApplyEvent(likeChanged(t, "R2", 11, "", 7, 8))
		rec.ApplyEvent(likeChanged(t, "D123", 12, "", 7))

		rec.ApplySnapshot(threadstore.Snapshot{
			Discussion:    domain.Discussion{Id: "D123", Likes: domain.NewLikeSet(me)},
			Sequence:      1,
			LikesSequence: 1,
			Replies: []threadstore.VersionedReply{
				{Reply: serverReply("R1", "", 1, ""), Sequence: 2, LikesSequence: 2},
				{Reply: serverReply("R2", "R1", 2, ""), Sequence: 3, LikesSequence: 3},
			},
		})

		require.True(t, store.Loaded())
		e, ok := store.Entry("R1")
		require.True(t, ok)
		assert.True(t, e.Removed)
		assert.Equal(t, []domain.ReplyId{"R2"}, store.Children("R1"))
		assert.Equal(t, []domain.UserId{7, 8}, store.Likes("R2").Ids())
		assert.Equal(t, []domain.UserId{7}, store.Discussion().Likes.Ids())
	})
}

func TestTick(t *testing.T) {
	t.Run("mutation older than the absolute bound is failed", func(t *testing.T) {
		f := newFixture(t)
		parent, _, err := f.rec.CreateReply(author, "parent", "")
		require.NoError(t, err)
		child, _, err := f.rec.CreateReply(author, "child", parent.TargetId)
		require.NoError(t, err)

		f.clock.Advance(testSync.MaxPendingAge)
		res := f.rec.Tick(f.clock.Now())

		assert.ElementsMatch(t, []domain.MutationId{parent.Id, child.Id}, mids(res.Resolved))
		assert.Equal(t, 0, f.store.Len())
		assert.Empty(t, f.rec.Queue().Pending())
	})
}
