package domain

// User is the signed-in account as carried by access token claims.
type User struct {
	Id    UserId
	Name  string
	Admin bool
}

func (u User) Ref() UserRef {
	return UserRef{Id: u.Id, Name: u.Name}
}

// UserRef is the author reference carried by discussions and replies.
type UserRef struct {
	Id   UserId `json:"id"`
	Name string `json:"name"`
}
