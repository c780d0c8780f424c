package http

import (
	"encoding/base64"
	"net/http"
)

// AuthConfig applies authentication to outgoing requests.
type AuthConfig interface {
	Apply(req *http.Request)
}

// NoAuth sends requests unauthenticated.
type NoAuth struct{}

func (a NoAuth) Apply(req *http.Request) {}

// BasicAuth uses HTTP Basic Authentication.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Apply(req *http.Request) {
	if a.Username == "" && a.Password == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	req.Header.Set("Authorization", "Basic "+credentials)
}

// BearerToken uses Bearer token authentication (Microsoft Graph, OAuth APIs).
type BearerToken struct {
	Token string
}

func (a BearerToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// AtlassianAuth uses Atlassian-style Basic Auth (email:token), as expected
// by Jira Cloud and Confluence Cloud.
type AtlassianAuth struct {
	Email    string
	APIToken string
}

func (a AtlassianAuth) Apply(req *http.Request) {
	if a.Email == "" || a.APIToken == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Email + ":" + a.APIToken))
	req.Header.Set("Authorization", "Basic "+credentials)
}
