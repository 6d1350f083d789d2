package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	mw "github.com/itchan-dev/threadsync/shared/middleware"
)

type MockDiscussionService struct {
	MockCreate func(author domain.User, data domain.DiscussionCreationData) (api.DiscussionResponse, error)
	MockGet    func(id domain.DiscussionId) (api.DiscussionResponse, error)
	MockUpdate func(user domain.User, id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error)
	MockLike   func(user domain.User, id domain.DiscussionId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error)
}

func (m *MockDiscussionService) Create(author domain.User, data domain.DiscussionCreationData) (api.DiscussionResponse, error) {
	if m.MockCreate != nil {
		return m.MockCreate(author, data)
	}
	return api.DiscussionResponse{}, nil
}

func (m *MockDiscussionService) Get(id domain.DiscussionId) (api.DiscussionResponse, error) {
	if m.MockGet != nil {
		return m.MockGet(id)
	}
	return api.DiscussionResponse{}, nil
}

func (m *MockDiscussionService) Update(user domain.User, id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error) {
	if m.MockUpdate != nil {
		return m.MockUpdate(user, id, data)
	}
	return api.DiscussionResponse{}, nil
}

func (m *MockDiscussionService) Like(user domain.User, id domain.DiscussionId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error) {
	if m.MockLike != nil {
		return m.MockLike(user, id, liked, mutationId)
	}
	return api.LikeResponse{}, nil
}

type MockReplyService struct {
	MockCreate func(author domain.User, data domain.ReplyCreationData) (api.ReplyResponse, error)
	MockList   func(id domain.DiscussionId, page, limit int) (api.RepliesPage, error)
	MockLike   func(user domain.User, replyId domain.ReplyId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error)
	MockRemove func(replyId domain.ReplyId) error
}

func (m *MockReplyService) Create(author domain.User, data domain.ReplyCreationData) (api.ReplyResponse, error) {
	if m.MockCreate != nil {
		return m.MockCreate(author, data)
	}
	return api.ReplyResponse{}, nil
}

func (m *MockReplyService) List(id domain.DiscussionId, page, limit int) (api.RepliesPage, error) {
	if m.MockList != nil {
		return m.MockList(id, page, limit)
	}
	return api.RepliesPage{}, nil
}

func (m *MockReplyService) Like(user domain.User, replyId domain.ReplyId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error) {
	if m.MockLike != nil {
		return m.MockLike(user, replyId, liked, mutationId)
	}
	return api.LikeResponse{}, nil
}

func (m *MockReplyService) Remove(replyId domain.ReplyId) error {
	if m.MockRemove != nil {
		return m.MockRemove(replyId)
	}
	return nil
}

var testUser = &domain.User{Id: 7, Name: "ann"}

// setupTestHandler mounts the handlers the way the router does, with user injected
// into the context of the authenticated group when signedIn is true.
func setupTestHandler(discussion *MockDiscussionService, reply *MockReplyService, signedIn bool) *chi.Mux {
	h := New(discussion, reply, nil, config.Default())
	router := chi.NewRouter()

	router.Get("/v1/discussions/{discussionId}", h.GetDiscussion)
	router.Get("/v1/discussions/{discussionId}/replies", h.GetReplies)

	router.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if signedIn {
					r = r.WithContext(context.WithValue(r.Context(), mw.UserClaimsKey, testUser))
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Post("/v1/discussions", h.CreateDiscussion)
		r.Put("/v1/discussions/{discussionId}", h.UpdateDiscussion)
		r.Post("/v1/discussions/{discussionId}/like", h.LikeDiscussion)
		r.Post("/v1/discussions/{discussionId}/replies", h.CreateReply)
		r.Post("/v1/replies/{replyId}/like", h.LikeReply)
		r.Delete("/v1/replies/{replyId}", h.RemoveReply)
	})
	router.Get("/health", h.Health)
	return router
}

func createRequest(t *testing.T, method, url string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}
