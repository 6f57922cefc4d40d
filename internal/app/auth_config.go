package app

import (
	"strings"

	iauth "github.com/cuonglevan23/taskflow-backend-sub003/internal/auth"
)

// JWTServiceConfig converts the auth settings into the jwt service representation.
func (a AuthConfig) JWTServiceConfig() iauth.JWTConfig {
	return iauth.JWTConfig{
		Secret:         strings.TrimSpace(a.JWT.Secret),
		Issuer:         strings.TrimSpace(a.JWT.Issuer),
		AccessTokenTTL: a.JWT.TTL,
	}
}
