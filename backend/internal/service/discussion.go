package service

import (
	"net/http"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
)

var ErrNotAuthor = &internal_errors.ErrorWithStatusCode{Message: "Only the author can edit the discussion", StatusCode: http.StatusForbidden}

type DiscussionService interface {
	Create(author domain.User, data domain.DiscussionCreationData) (api.DiscussionResponse, error)
	Get(id domain.DiscussionId) (api.DiscussionResponse, error)
	Update(user domain.User, id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error)
	Like(user domain.User, id domain.DiscussionId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error)
}

type DiscussionStorage interface {
	CreateDiscussion(data domain.DiscussionCreationData) (api.DiscussionResponse, error)
	GetDiscussion(id domain.DiscussionId) (api.DiscussionResponse, error)
	UpdateDiscussion(id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error)
	SetLike(kind api.TargetKind, targetId string, user domain.UserId, liked bool) (api.LikeResponse, bool, error)
}

type Discussion struct {
	storage   DiscussionStorage
	validator ContentValidator
	publisher Publisher
}

func NewDiscussion(storage DiscussionStorage, validator ContentValidator, publisher Publisher) *Discussion {
	return &Discussion{storage, validator, publisher}
}

func (s *Discussion) Create(author domain.User, data domain.DiscussionCreationData) (api.DiscussionResponse, error) {
	content, err := s.validator.Check(data.Content)
	if err != nil {
		return api.DiscussionResponse{}, err
	}
	data.Content = content
	data.Author = author.Ref()
	return s.storage.CreateDiscussion(data)
}

func (s *Discussion) Get(id domain.DiscussionId) (api.DiscussionResponse, error) {
	return s.storage.GetDiscussion(id)
}

// Update is allowed to the author and to admins.
func (s *Discussion) Update(user domain.User, id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error) {
	current, err := s.storage.GetDiscussion(id)
	if err != nil {
		return api.DiscussionResponse{}, err
	}
	if current.Discussion.Author.Id != user.Id && !user.Admin {
		return api.DiscussionResponse{}, ErrNotAuthor
	}
	content, err := s.validator.Check(data.Content)
	if err != nil {
		return api.DiscussionResponse{}, err
	}
	data.Content = content

	updated, err := s.storage.UpdateDiscussion(id, data)
	if err != nil {
		return api.DiscussionResponse{}, err
	}
	publish(s.publisher, api.DiscussionUpdated, id, "", updated.Sequence, updated.Discussion)
	return updated, nil
}

func (s *Discussion) Like(user domain.User, id domain.DiscussionId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error) {
	resp, changed, err := s.storage.SetLike(api.TargetDiscussion, id, user.Id, liked)
	if err != nil {
		return api.LikeResponse{}, err
	}
	if changed {
		publish(s.publisher, api.LikeCountChanged, id, mutationId, resp.Sequence, resp)
	}
	return resp, nil
}
