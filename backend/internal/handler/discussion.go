package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
	"github.com/itchan-dev/threadsync/shared/utils"
)

func (h *Handler) CreateDiscussion(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body api.CreateDiscussionRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	resp, err := h.discussion.Create(user, domain.DiscussionCreationData{
		Title:    body.Title,
		Content:  body.Content,
		Tags:     body.Tags,
		Category: body.Category,
	})
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetDiscussion(w http.ResponseWriter, r *http.Request) {
	resp, err := h.discussion.Get(chi.URLParam(r, "discussionId"))
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateDiscussion(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body api.UpdateDiscussionRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	resp, err := h.discussion.Update(user, chi.URLParam(r, "discussionId"), domain.DiscussionUpdateData{
		Title:    body.Title,
		Content:  body.Content,
		Tags:     body.Tags,
		Category: body.Category,
	})
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) LikeDiscussion(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body api.LikeRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	resp, err := h.discussion.Like(user, chi.URLParam(r, "discussionId"), body.Liked, body.MutationId)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}
