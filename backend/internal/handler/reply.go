package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
	"github.com/itchan-dev/threadsync/shared/utils"
)

const defaultPage = 1

func (h *Handler) GetReplies(w http.ResponseWriter, r *http.Request) {
	page, err := parseIntQuery(r, "page", defaultPage)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	// 0 lets the service pick the configured page size
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	resp, err := h.reply.List(chi.URLParam(r, "discussionId"), page, limit)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

// CreateReply answers with the stored reply, also when the mutation id was already applied.
func (h *Handler) CreateReply(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var body api.CreateReplyRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}

	resp, err := h.reply.Create(user, domain.ReplyCreationData{
		DiscussionId:  chi.URLParam(r, "discussionId"),
		ParentReplyId: body.ParentReply,
		Content:       body.Content,
		MutationId:    body.MutationId,
	})
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) LikeReply(w http.ResponseWriter, r *http.Request) {
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

	resp, err := h.reply.Like(user, chi.URLParam(r, "replyId"), body.Liked, body.MutationId)
	if err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) RemoveReply(w http.ResponseWriter, r *http.Request) {
	if err := h.reply.Remove(chi.URLParam(r, "replyId")); err != nil {
		utils.WriteErrorAndStatusCode(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
