package setup

import (
	"time"

	"github.com/itchan-dev/threadsync/backend/internal/handler"
	"github.com/itchan-dev/threadsync/backend/internal/hub"
	"github.com/itchan-dev/threadsync/backend/internal/markdown"
	"github.com/itchan-dev/threadsync/backend/internal/service"
	"github.com/itchan-dev/threadsync/backend/internal/storage/memory"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/jwt"
	mw "github.com/itchan-dev/threadsync/shared/middleware"
	"github.com/itchan-dev/threadsync/shared/middleware/ratelimiter"
	"github.com/itchan-dev/threadsync/shared/validation"
)

// Dependencies struct to hold all initialized dependencies.
type Dependencies struct {
	Storage        *memory.Storage
	Hub            *hub.Hub
	Handler        *handler.Handler
	Jwt            jwt.JwtService
	AuthMiddleware *mw.Auth
	// ReplyLimiter is nil when reply creation is not rate limited.
	ReplyLimiter *ratelimiter.UserRateLimiter
	// ReadLimiter is keyed by client IP; nil when public routes are not rate limited.
	ReadLimiter *ratelimiter.UserRateLimiter
	DedupeGC    *service.DedupeGarbageCollector
	Config      *config.Config
}

// SetupDependencies initializes all dependencies required for the application.
func SetupDependencies(cfg *config.Config) *Dependencies {
	storage := memory.New()
	realtime := hub.New(cfg.Public.Realtime, cfg.Public.Server.AllowedOrigins)
	jwtService := jwt.New(cfg.JwtKey(), cfg.JwtTTL())

	content := validation.NewContent(cfg.Public.Thread.MaxContentLength)
	discussion := service.NewDiscussion(storage, content, realtime)
	reply := service.NewReply(storage, content, markdown.New(), realtime, cfg.Public.Thread)

	server := cfg.Public.Server
	var replyLimiter, readLimiter *ratelimiter.UserRateLimiter
	if server.ReplyRate > 0 {
		replyLimiter = ratelimiter.New(server.ReplyRate, float64(max(server.ReplyBurst, 1)), time.Hour)
	}
	if server.ReadRate > 0 {
		readLimiter = ratelimiter.New(server.ReadRate, float64(max(server.ReadBurst, 1)), time.Hour)
	}

	return &Dependencies{
		Storage:        storage,
		Hub:            realtime,
		Handler:        handler.New(discussion, reply, realtime, cfg),
		Jwt:            jwtService,
		AuthMiddleware: mw.NewAuth(jwtService),
		ReplyLimiter:   replyLimiter,
		ReadLimiter:    readLimiter,
		DedupeGC:       service.NewDedupeGarbageCollector(storage, server.DedupeRetention),
		Config:         cfg,
	}
}

// Close disconnects realtime clients and stops background timers.
func (d *Dependencies) Close() {
	d.Hub.Close()
	if d.ReplyLimiter != nil {
		d.ReplyLimiter.Stop()
	}
	if d.ReadLimiter != nil {
		d.ReadLimiter.Stop()
	}
}
