package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itchan-dev/threadsync/backend/internal/setup"
	mw "github.com/itchan-dev/threadsync/shared/middleware"
	"github.com/itchan-dev/threadsync/shared/middleware/metrics"
)

const maxBodyBytes = 1 << 20

// New creates the chi router with every forum route.
func New(deps *setup.Dependencies) *chi.Mux {
	r := chi.NewRouter()
	server := deps.Config.Public.Server

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestSize(maxBodyBytes))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(mw.SecurityHeaders(server.HTTPS))

	h := deps.Handler
	authMw := deps.AuthMiddleware

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		// Reads are public, so they are limited per client IP
		v1.Group(func(public chi.Router) {
			public.Use(authMw.OptionalAuth())
			if deps.ReadLimiter != nil {
				public.Use(mw.RateLimit(deps.ReadLimiter, mw.GetIP))
			}
			public.Get("/discussions/{discussionId}", h.GetDiscussion)
			public.Get("/discussions/{discussionId}/replies", h.GetReplies)
			public.Get("/ws", h.Realtime)
		})

		v1.Group(func(loggedIn chi.Router) {
			loggedIn.Use(authMw.NeedAuth())
			loggedIn.Post("/discussions", h.CreateDiscussion)
			loggedIn.Put("/discussions/{discussionId}", h.UpdateDiscussion)
			loggedIn.Post("/discussions/{discussionId}/like", h.LikeDiscussion)
			loggedIn.Post("/replies/{replyId}/like", h.LikeReply)

			createReply := http.Handler(http.HandlerFunc(h.CreateReply))
			if deps.ReplyLimiter != nil {
				createReply = mw.RateLimit(deps.ReplyLimiter, mw.GetUserIDFromContext)(createReply)
			}
			loggedIn.Method(http.MethodPost, "/discussions/{discussionId}/replies", createReply)
		})

		v1.Group(func(admin chi.Router) {
			admin.Use(authMw.AdminOnly())
			admin.Delete("/replies/{replyId}", h.RemoveReply)
		})
	})

	return r
}
