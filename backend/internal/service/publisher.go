package service

import (
	"github.com/itchan-dev/threadsync/shared/api"
	"github.com/itchan-dev/threadsync/shared/domain"
	"github.com/itchan-dev/threadsync/shared/logger"
)

// Publisher delivers realtime events to the discussion's room.
type Publisher interface {
	Publish(ev api.Event)
}

// ContentValidator normalizes user text and rejects what cannot be stored.
type ContentValidator interface {
	Check(text string) (string, error)
}

// ContentRenderer turns stored text into display HTML.
type ContentRenderer interface {
	Render(text string) string
}

// publish encodes and sends an event. An event that cannot be encoded is logged
// and dropped: the change is stored and clients see it on their next refresh.
func publish(p Publisher, t api.EventType, id domain.DiscussionId, mutationId domain.MutationId, seq domain.Sequence, data any) {
	ev, err := api.NewEvent(t, id, mutationId, seq, data)
	if err != nil {
		logger.Log.Error("event not published", "type", t, "discussion", id, "error", err)
		return
	}
	p.Publish(ev)
}
