package tree

import "github.com/itchan-dev/threadsync/shared/domain"

// ViewState is the set of expanded replies of one discussion view. It lives
// with the view and never touches the store.
type ViewState struct {
	expanded map[domain.ReplyId]bool
}

func NewViewState() *ViewState {
	return &ViewState{expanded: make(map[domain.ReplyId]bool)}
}

func (v *ViewState) Expand(id domain.ReplyId) {
	v.expanded[id] = true
}

func (v *ViewState) Collapse(id domain.ReplyId) {
	delete(v.expanded, id)
}

// Toggle flips id and returns whether it is now expanded.
func (v *ViewState) Toggle(id domain.ReplyId) bool {
	if v.expanded[id] {
		delete(v.expanded, id)
		return false
	}
	v.expanded[id] = true
	return true
}

func (v *ViewState) IsExpanded(id domain.ReplyId) bool {
	return v.expanded[id]
}

// Migrate moves expansion from temporary ids to the server ids they were confirmed as.
func (v *ViewState) Migrate(aliases map[domain.ReplyId]domain.ReplyId) {
	for tempId, id := range aliases {
		if v.expanded[tempId] {
			delete(v.expanded, tempId)
			v.expanded[id] = true
		}
	}
}

func (v *ViewState) Clone() *ViewState {
	c := NewViewState()
	for id := range v.expanded {
		c.expanded[id] = true
	}
	return c
}
