package service

import (
	"sync"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
)

type MockDiscussionStorage struct {
	CreateDiscussionFunc func(data domain.DiscussionCreationData) (api.DiscussionResponse, error)
	GetDiscussionFunc    func(id domain.DiscussionId) (api.DiscussionResponse, error)
	UpdateDiscussionFunc func(id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error)
	SetLikeFunc          func(kind api.TargetKind, targetId string, user domain.UserId, liked bool) (api.LikeResponse, bool, error)
}

func (m *MockDiscussionStorage) CreateDiscussion(data domain.DiscussionCreationData) (api.DiscussionResponse, error) {
	if m.CreateDiscussionFunc != nil {
		return m.CreateDiscussionFunc(data)
	}
	return api.DiscussionResponse{Discussion: domain.Discussion{Id: "D1", Title: data.Title, Content: data.Content, Author: data.Author}, Sequence: 1}, nil
}

func (m *MockDiscussionStorage) GetDiscussion(id domain.DiscussionId) (api.DiscussionResponse, error) {
	if m.GetDiscussionFunc != nil {
		return m.GetDiscussionFunc(id)
	}
	return api.DiscussionResponse{Discussion: domain.Discussion{Id: id}, Sequence: 1}, nil
}

func (m *MockDiscussionStorage) UpdateDiscussion(id domain.DiscussionId, data domain.DiscussionUpdateData) (api.DiscussionResponse, error) {
	if m.UpdateDiscussionFunc != nil {
		return m.UpdateDiscussionFunc(id, data)
	}
	return api.DiscussionResponse{Discussion: domain.Discussion{Id: id, Title: data.Title, Content: data.Content}, Sequence: 2}, nil
}

func (m *MockDiscussionStorage) SetLike(kind api.TargetKind, targetId string, user domain.UserId, liked bool) (api.LikeResponse, bool, error) {
	if m.SetLikeFunc != nil {
		return m.SetLikeFunc(kind, targetId, user, liked)
	}
	return api.LikeResponse{TargetKind: kind, TargetId: targetId, DiscussionId: targetId, Likes: domain.NewLikeSet(user), Sequence: 2}, true, nil
}

type MockReplyStorage struct {
	CreateReplyFunc func(data domain.ReplyCreationData) (api.ReplyResponse, bool, error)
	GetRepliesFunc  func(id domain.DiscussionId, page, limit int) (api.RepliesPage, error)
	SetLikeFunc     func(kind api.TargetKind, targetId string, user domain.UserId, liked bool) (api.LikeResponse, bool, error)
	RemoveReplyFunc func(replyId domain.ReplyId) (api.ReplyResponse, bool, error)
}

func (m *MockReplyStorage) CreateReply(data domain.ReplyCreationData) (api.ReplyResponse, bool, error) {
	if m.CreateReplyFunc != nil {
		return m.CreateReplyFunc(data)
	}
	return api.ReplyResponse{Reply: domain.Reply{
		Id:            "R1",
		DiscussionId:  data.DiscussionId,
		ParentReplyId: data.ParentReplyId,
		Author:        data.Author,
		Content:       data.Content,
		ContentHtml:   data.ContentHtml,
		MutationId:    data.MutationId,
	}, Sequence: 2, LikesSequence: 2}, true, nil
}

func (m *MockReplyStorage) GetReplies(id domain.DiscussionId, page, limit int) (api.RepliesPage, error) {
	if m.GetRepliesFunc != nil {
		return m.GetRepliesFunc(id, page, limit)
	}
	return api.RepliesPage{Page: page, Limit: limit}, nil
}

func (m *MockReplyStorage) SetLike(kind api.TargetKind, targetId string, user domain.UserId, liked bool) (api.LikeResponse, bool, error) {
	if m.SetLikeFunc != nil {
		return m.SetLikeFunc(kind, targetId, user, liked)
	}
	return api.LikeResponse{TargetKind: kind, TargetId: targetId, DiscussionId: "D1", Likes: domain.NewLikeSet(user), Sequence: 3}, true, nil
}

func (m *MockReplyStorage) RemoveReply(replyId domain.ReplyId) (api.ReplyResponse, bool, error) {
	if m.RemoveReplyFunc != nil {
		return m.RemoveReplyFunc(replyId)
	}
	return api.ReplyResponse{Reply: domain.Reply{Id: replyId, DiscussionId: "D1"}, Sequence: 4, Removed: true}, true, nil
}

type MockValidator struct {
	CheckFunc func(text string) (string, error)
}

func (m *MockValidator) Check(text string) (string, error) {
	if m.CheckFunc != nil {
		return m.CheckFunc(text)
	}
	if text == "" {
		return "", &internal_errors.ValidationError{Field: "content", Message: "content is empty"}
	}
	return text, nil
}

type MockRenderer struct{}

func (MockRenderer) Render(text string) string {
	return "<p>" + text + "</p>"
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []api.Event
}

func (p *recordingPublisher) Publish(ev api.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Events() []api.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]api.Event(nil), p.events...)
}
