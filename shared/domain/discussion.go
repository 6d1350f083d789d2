package domain

import "time"

type Discussion struct {
	Id        DiscussionId `json:"id"`
	Title     string       `json:"title"`
	Content   string       `json:"content"`
	Author    UserRef      `json:"author"`
	CreatedAt time.Time    `json:"createdAt"`
	ViewCount int          `json:"viewCount"`
	Likes     LikeSet      `json:"likes"`
	Tags      []Tag        `json:"tags,omitempty"`
	Category  Category     `json:"category,omitempty"`
}

// to iterate thru layers: handler -> service -> storage
type DiscussionCreationData struct {
	Title    string
	Content  string
	Author   UserRef
	Tags     []Tag
	Category Category
}

// DiscussionUpdateData replaces the editable fields.
type DiscussionUpdateData struct {
	Title    string
	Content  string
	Tags     []Tag
	Category Category
}
