// Package tree derives the nested reply view of a discussion from the thread store.
package tree

import (
	"slices"

	"github.com/itchan-dev/threadsync/client/threadstore"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
)

// Source is the read side of the thread store.
type Source interface {
	Discussion() domain.Discussion
	Children(parent domain.ReplyId) []domain.ReplyId
	Entry(id domain.ReplyId) (threadstore.Entry, bool)
}

type Node struct {
	Reply     domain.Reply
	Liked     bool
	LikeCount int
	// Depth is the rendered depth, 1 for top level. Flattened replies share the depth cap.
	Depth int
	// ChildCount counts visible children whether or not the node is expanded.
	ChildCount int
	Expanded   bool
	// Removed nodes are placeholders kept for their visible children.
	Removed bool
	// Pending marks a tentative reply not yet confirmed by the server.
	Pending  bool
	Children []*Node
}

type View struct {
	Discussion   domain.Discussion
	Liked        bool
	LikeCount    int
	TopLevel     []*Node
	TotalReplies int
}

type Projector struct {
	maxDepth int
	flatten  bool
}

func NewProjector(cfg config.Thread) *Projector {
	return &Projector{
		maxDepth: cfg.MaxDepth,
		flatten:  cfg.MaxDepth > 0,
	}
}

// Project builds the view for user. Only expanded nodes carry their Children.
func (p *Projector) Project(src Source, vs *ViewState, user domain.UserId) View {
	d := src.Discussion()
	v := View{
		Discussion: d,
		Liked:      d.Likes.Has(user),
		LikeCount:  d.Likes.Count(),
	}
	for _, id := range p.childIds(src, "", 0) {
		if n := p.node(src, vs, user, id, 1); n != nil {
			v.TopLevel = append(v.TopLevel, n)
		}
	}
	v.TotalReplies = countVisible(src, "")
	return v
}

// TopLevel returns the visible top-level replies ordered by creation.
func (p *Projector) TopLevel(src Source) []domain.Reply {
	return p.ChildrenOf(src, "")
}

// ChildrenOf returns the visible children of id as rendered under the depth policy.
func (p *Projector) ChildrenOf(src Source, id domain.ReplyId) []domain.Reply {
	depth := 0
	if id != "" {
		depth = p.renderDepth(src, id)
		if depth == 0 {
			return nil
		}
	}
	var out []domain.Reply
	for _, kid := range p.childIds(src, id, depth) {
		if n := p.node(src, nil, 0, kid, depth+1); n != nil {
			out = append(out, n.Reply)
		}
	}
	return out
}

func (p *Projector) node(src Source, vs *ViewState, user domain.UserId, id domain.ReplyId, depth int) *Node {
	e, ok := src.Entry(id)
	if !ok {
		return nil
	}
	var kids []*Node
	for _, kid := range p.childIds(src, e.Reply.Id, depth) {
		if c := p.node(src, vs, user, kid, depth+1); c != nil {
			kids = append(kids, c)
		}
	}
	// removed leaves disappear, removed replies with rendered children stay as placeholders
	if e.Removed && len(kids) == 0 {
		return nil
	}
	n := &Node{
		Reply:     e.Reply,
		Liked:     e.Reply.Likes.Has(user),
		LikeCount: e.Reply.Likes.Count(),
		Depth:     depth,
		Expanded:  vs != nil && vs.IsExpanded(e.Reply.Id),
		Removed:   e.Removed,
		Pending:   e.Tentative,
	}
	n.ChildCount = len(kids)
	if n.Expanded {
		n.Children = kids
	}
	return n
}

// childIds lists the ids rendered directly under id at depth. Replies past the cap
// are pulled up into the list of their ancestor one level above the cap.
func (p *Projector) childIds(src Source, id domain.ReplyId, depth int) []domain.ReplyId {
	if !p.flatten || depth+1 < p.maxDepth {
		return src.Children(id)
	}
	if depth >= p.maxDepth {
		return nil
	}

	var all []domain.Reply
	var walk func(domain.ReplyId)
	walk = func(parent domain.ReplyId) {
		for _, kid := range src.Children(parent) {
			if e, ok := src.Entry(kid); ok {
				all = append(all, e.Reply)
				walk(kid)
			}
		}
	}
	walk(id)
	slices.SortStableFunc(all, func(a, b domain.Reply) int {
		switch {
		case a.Before(&b):
			return -1
		case b.Before(&a):
			return 1
		}
		return 0
	})
	ids := make([]domain.ReplyId, len(all))
	for i := range all {
		ids[i] = all[i].Id
	}
	return ids
}

// renderDepth is the depth id is drawn at, 0 for unknown replies.
func (p *Projector) renderDepth(src Source, id domain.ReplyId) int {
	depth := 0
	for cur := id; cur != ""; {
		e, ok := src.Entry(cur)
		if !ok {
			return 0
		}
		depth++
		cur = e.Reply.ParentReplyId
	}
	if p.flatten && depth > p.maxDepth {
		return p.maxDepth
	}
	return depth
}

func countVisible(src Source, parent domain.ReplyId) int {
	n := 0
	for _, kid := range src.Children(parent) {
		e, ok := src.Entry(kid)
		if !ok {
			continue
		}
		if !e.Removed {
			n++
		}
		n += countVisible(src, kid)
	}
	return n
}
