package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
)

func (c *APIClient) GetDiscussion(ctx context.Context, id domain.DiscussionId) (api.DiscussionResponse, error) {
	var resp api.DiscussionResponse
	err := c.do(ctx, "get discussion", http.MethodGet, "/v1/discussions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *APIClient) CreateDiscussion(ctx context.Context, req api.CreateDiscussionRequest) (api.DiscussionResponse, error) {
	var resp api.DiscussionResponse
	err := c.do(ctx, "create discussion", http.MethodPost, "/v1/discussions", req, &resp)
	return resp, err
}

func (c *APIClient) LikeDiscussion(ctx context.Context, id domain.DiscussionId, req api.LikeRequest) (api.LikeResponse, error) {
	var resp api.LikeResponse
	err := c.do(ctx, "like discussion", http.MethodPost, fmt.Sprintf("/v1/discussions/%s/like", url.PathEscape(id)), req, &resp)
	return resp, err
}

// UpdateDiscussion replaces title, content, tags and category. Only the author or an admin may do it.
func (c *APIClient) UpdateDiscussion(ctx context.Context, id domain.DiscussionId, req api.UpdateDiscussionRequest) (api.DiscussionResponse, error) {
	var resp api.DiscussionResponse
	err := c.do(ctx, "update discussion", http.MethodPut, "/v1/discussions/"+url.PathEscape(id), req, &resp)
	return resp, err
}
