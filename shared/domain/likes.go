package domain

import (
	"encoding/json"
	"slices"
)

// LikeSet holds the ids of users liking a discussion or reply.
// A user id is present at most once.
type LikeSet map[UserId]struct{}

func NewLikeSet(ids ...UserId) LikeSet {
	s := make(LikeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s LikeSet) Has(id UserId) bool {
	_, ok := s[id]
	return ok
}

func (s LikeSet) Count() int {
	return len(s)
}

// With returns a copy of s where id's membership equals liked.
func (s LikeSet) With(id UserId, liked bool) LikeSet {
	c := s.Clone()
	if liked {
		c[id] = struct{}{}
	} else {
		delete(c, id)
	}
	return c
}

func (s LikeSet) Clone() LikeSet {
	c := make(LikeSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Ids returns the members in ascending order.
func (s LikeSet) Ids() []UserId {
	ids := make([]UserId, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s LikeSet) Equal(o LikeSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

func (s LikeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Ids())
}

func (s *LikeSet) UnmarshalJSON(data []byte) error {
	var ids []UserId
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewLikeSet(ids...)
	return nil
}
