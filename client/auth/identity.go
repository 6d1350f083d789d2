// Package auth tells the sync client who the current user is.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/itchan-dev/threadsync/shared/domain"
)

// Identity gates mutations and decides which like memberships are "mine".
type Identity interface {
	// CurrentUser returns false when nobody is signed in.
	CurrentUser() (domain.User, bool)
	// Token is the bearer token sent with requests, empty when signed out.
	Token() string
}

var errInvalidClaims = errors.New("invalid claims")

// TokenIdentity reads the user from an access token issued by the forum.
// The signature is the server's business; only the claims are read here.
type TokenIdentity struct {
	mu    sync.RWMutex
	token string
	user  domain.User
	ok    bool
}

func NewTokenIdentity(token string) (*TokenIdentity, error) {
	id := &TokenIdentity{}
	if token == "" {
		return id, nil
	}
	if err := id.SetToken(token); err != nil {
		return nil, err
	}
	return id, nil
}

// SetToken switches to another token. An empty token signs out.
func (i *TokenIdentity) SetToken(token string) error {
	if token == "" {
		i.mu.Lock()
		i.token, i.user, i.ok = "", domain.User{}, false
		i.mu.Unlock()
		return nil
	}
	user, err := UserFromToken(token)
	if err != nil {
		return err
	}
	i.mu.Lock()
	i.token, i.user, i.ok = token, user, true
	i.mu.Unlock()
	return nil
}

func (i *TokenIdentity) CurrentUser() (domain.User, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.user, i.ok
}

func (i *TokenIdentity) Token() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.token
}

// UserFromToken extracts the user claims without verifying the signature.
func UserFromToken(token string) (domain.User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return domain.User{}, fmt.Errorf("parse access token: %w", err)
	}

	uidFloat, ok := claims["uid"].(float64)
	if !ok {
		return domain.User{}, errInvalidClaims
	}
	name, _ := claims["name"].(string)
	admin, _ := claims["admin"].(bool)
	return domain.User{Id: int64(uidFloat), Name: name, Admin: admin}, nil
}

// Static is a fixed identity, used by tests and tools.
type Static struct {
	User        domain.User
	AccessToken string
	SignedIn    bool
}

func (s Static) CurrentUser() (domain.User, bool) {
	return s.User, s.SignedIn
}

func (s Static) Token() string {
	return s.AccessToken
}

func Anonymous() Identity {
	return Static{}
}
