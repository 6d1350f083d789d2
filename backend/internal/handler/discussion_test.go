package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itchan-dev/threadsync/backend/internal/service"
	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
)

func TestCreateDiscussionHandler(t *testing.T) {
	route := "/v1/discussions"
	requestBody := []byte(`{"title": "Best opening", "content": "e4 or d4?", "tags": ["chess"]}`)

	t.Run("successful request", func(t *testing.T) {
		mockService := &MockDiscussionService{
			MockCreate: func(author domain.User, data domain.DiscussionCreationData) (api.DiscussionResponse, error) {
				assert.Equal(t, *testUser, author)
				assert.Equal(t, "Best opening", data.Title)
				assert.Equal(t, []string{"chess"}, data.Tags)
				return api.DiscussionResponse{Discussion: domain.Discussion{Id: "D1", Title: data.Title}, Sequence: 1}, nil
			},
		}
		router := setupTestHandler(mockService, &MockReplyService{}, true)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, createRequest(t, http.MethodPost, route, requestBody))

		assert.Equal(t, http.StatusCreated, rr.Code)
		got := decodeBody[api.DiscussionResponse](t, rr)
		assert.Equal(t, domain.DiscussionId("D1"), got.Discussion.Id)
	})

	t.Run("anonymous", func(t *testing.T) {
		router := setupTestHandler(&MockDiscussionService{}, &MockReplyService{}, false)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, createRequest(t, http.MethodPost, route, requestBody))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		router := setupTestHandler(&MockDiscussionService{}, &MockReplyService{}, true)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, createRequest(t, http.MethodPost, route, []byte(`{"title": "no content"}`)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		router := setupTestHandler(&MockDiscussionService{}, &MockReplyService{}, true)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, createRequest(t, http.MethodPost, route, []byte(`{`)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetDiscussionHandler(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mockService := &MockDiscussionService{
			MockGet: func(id domain.DiscussionId) (api.DiscussionResponse, error) {
				assert.Equal(t, domain.DiscussionId("D123"), id)
				return api.DiscussionResponse{Discussion: domain.Discussion{Id: id, Likes: domain.NewLikeSet(2, 1)}, Sequence: 4, LikesSequence: 3}, nil
			},
		}
		router := setupTestHandler(mockService, &MockReplyService{}, false)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/discussions/D123", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"likes":[1,2]`)
		got := decodeBody[api.DiscussionResponse](t, rr)
		assert.Equal(t, domain.Sequence(4), got.Sequence)
		assert.Equal(t, domain.Sequence(3), got.LikesSequence)
	})

	t.Run("not found", func(t *testing.T) {
		mockService := &MockDiscussionService{
			MockGet: func(id domain.DiscussionId) (api.DiscussionResponse, error) {
				return api.DiscussionResponse{}, internal_errors.NotFound
			},
		}
		router := setupTestHandler(mockService, &MockReplyService{}, false)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/discussions/nope", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestUpdateDiscussionHandler(t *testing.T) {
	route := "/v1/discussions/D1"

	t.Run("successful request", func(t *testing.T) {
		mockService := &MockDiscussionService{
			MockUpdate: func(user domain.User, id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error) {
				assert.Equal(t, domain.DiscussionId("D1"), id)
				assert.Equal(t, "e4", data.Content)
				return api.DiscussionResponse{Discussion: domain.Discussion{Id: id, Title: data.Title}, Sequence: 5}, nil
			},
		}
		router := setupTestHandler(mockService, &MockReplyService{}, true)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, createRequest(t, http.MethodPut, route, []byte(`{"title": "Best opening?", "content": "e4"}`)))

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("not the author", func(t *testing.T) {
		mockService := &MockDiscussionService{
			MockUpdate: func(user domain.User, id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error) {
				return api.DiscussionResponse{}, service.ErrNotAuthor
			},
		}
		router := setupTestHandler(mockService, &MockReplyService{}, true)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, createRequest(t, http.MethodPut, route, []byte(`{"title": "t", "content": "c"}`)))

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestLikeDiscussionHandler(t *testing.T) {
	route := "/v1/discussions/D1/like"

	tests := []struct {
		name  string
		body  string
		liked bool
	}{
		{name: "like", body: `{"liked": true, "mutationId": "m1"}`, liked: true},
		{name: "unlike", body: `{"liked": false, "mutationId": "m1"}`, liked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockDiscussionService{
				MockLike: func(user domain.User, id domain.DiscussionId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error) {
					assert.Equal(t, tt.liked, liked)
					assert.Equal(t, domain.MutationId("m1"), mutationId)
					return api.LikeResponse{TargetKind: api.TargetDiscussion, TargetId: id, Likes: domain.NewLikeSet(user.Id), Sequence: 2}, nil
				},
			}
			router := setupTestHandler(mockService, &MockReplyService{}, true)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, createRequest(t, http.MethodPost, route, []byte(tt.body)))

			assert.Equal(t, http.StatusOK, rr.Code)
			got := decodeBody[api.LikeResponse](t, rr)
			assert.True(t, got.Likes.Has(testUser.Id))
		})
	}
}
