package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
)

// GetReplies fetches one page of replies, pages start at 1.
func (c *APIClient) GetReplies(ctx context.Context, id domain.DiscussionId, page, limit int) (api.RepliesPage, error) {
	var resp api.RepliesPage
	path := fmt.Sprintf("/v1/discussions/%s/replies?page=%d&limit=%d", url.PathEscape(id), page, limit)
	err := c.do(ctx, "get replies", http.MethodGet, path, nil, &resp)
	return resp, err
}

func (c *APIClient) CreateReply(ctx context.Context, id domain.DiscussionId, req api.CreateReplyRequest) (api.ReplyResponse, error) {
	var resp api.ReplyResponse
	err := c.do(ctx, "create reply", http.MethodPost, fmt.Sprintf("/v1/discussions/%s/replies", url.PathEscape(id)), req, &resp)
	return resp, err
}

func (c *APIClient) LikeReply(ctx context.Context, id domain.ReplyId, req api.LikeRequest) (api.LikeResponse, error) {
	var resp api.LikeResponse
	err := c.do(ctx, "like reply", http.MethodPost, fmt.Sprintf("/v1/replies/%s/like", url.PathEscape(id)), req, &resp)
	return resp, err
}

// RemoveReply tombstones a reply. Requires an admin token.
func (c *APIClient) RemoveReply(ctx context.Context, id domain.ReplyId) error {
	return c.do(ctx, "remove reply", http.MethodDelete, "/v1/replies/"+url.PathEscape(id), nil, nil)
}
