package service

import (
	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
)

const maxPageSize = 500

type ReplyService interface {
	Create(author domain.User, data domain.ReplyCreationData) (api.ReplyResponse, error)
	List(id domain.DiscussionId, page, limit int) (api.RepliesPage, error)
	Like(user domain.User, replyId domain.ReplyId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error)
	Remove(replyId domain.ReplyId) error
}

type ReplyStorage interface {
	CreateReply(data domain.ReplyCreationData) (api.ReplyResponse, bool, error)
	GetReplies(id domain.DiscussionId, page, limit int) (api.RepliesPage, error)
	SetLike(kind api.TargetKind, targetId string, user domain.UserId, liked bool) (api.LikeResponse, bool, error)
	RemoveReply(replyId domain.ReplyId) (api.ReplyResponse, bool, error)
}

type Reply struct {
	storage   ReplyStorage
	validator ContentValidator
	renderer  ContentRenderer
	publisher Publisher
	pageSize  int
}

func NewReply(storage ReplyStorage, validator ContentValidator, renderer ContentRenderer, publisher Publisher, cfg config.Thread) *Reply {
	pageSize := cfg.RepliesPageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Reply{storage, validator, renderer, publisher, pageSize}
}

// Create stores the reply and announces it to the room. Repeating a create with the
// same mutation id returns the stored reply without a second announcement.
func (s *Reply) Create(author domain.User, data domain.ReplyCreationData) (api.ReplyResponse, error) {
	content, err := s.validator.Check(data.Content)
	if err != nil {
		return api.ReplyResponse{}, err
	}
	data.Content = content
	data.ContentHtml = s.renderer.Render(content)
	data.Author = author.Ref()

	resp, created, err := s.storage.CreateReply(data)
	if err != nil {
		return api.ReplyResponse{}, err
	}
	if created {
		publish(s.publisher, api.ReplyCreated, data.DiscussionId, data.MutationId, resp.Sequence, resp.Reply)
	}
	return resp, nil
}

// List returns one page of replies. page starts at 1; limit defaults to the configured page size.
func (s *Reply) List(id domain.DiscussionId, page, limit int) (api.RepliesPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	limit = min(limit, maxPageSize)
	return s.storage.GetReplies(id, page, limit)
}

func (s *Reply) Like(user domain.User, replyId domain.ReplyId, liked bool, mutationId domain.MutationId) (api.LikeResponse, error) {
	resp, changed, err := s.storage.SetLike(api.TargetReply, replyId, user.Id, liked)
	if err != nil {
		return api.LikeResponse{}, err
	}
	if changed {
		publish(s.publisher, api.LikeCountChanged, resp.DiscussionId, mutationId, resp.Sequence, resp)
	}
	return resp, nil
}

// Remove tombstones the reply; its children stay.
func (s *Reply) Remove(replyId domain.ReplyId) error {
	resp, changed, err := s.storage.RemoveReply(replyId)
	if err != nil {
		return err
	}
	if changed {
		publish(s.publisher, api.ReplyRemoved, resp.Reply.DiscussionId, "", resp.Sequence, api.ReplyRemovedData{ReplyId: replyId})
	}
	return nil
}
