package github

import (
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
)

// Service provides user resolution for a GitHub organization.
// Keys are GitHub logins.
type Service interface {
	interfaces.UserLookup
}

type userQuery struct {
	User *struct {
		ID        string
		Login     string
		Name      string
		AvatarURL string `graphql:"avatarUrl(size: 72)"`
	} `graphql:"user(login: $login)"`
}
