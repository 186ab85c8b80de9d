package webhook

import "strings"

// Flavor identifies which source-control vendor sent a push event.
type Flavor string

const (
	FlavorGitea  Flavor = "gitea"
	FlavorGitHub Flavor = "github"
)

// Repository mirrors the `repository.full_name` field both flavors share.
type Repository struct {
	FullName string `json:"full_name"`
}

// giteaPusher and githubPusher carry the pusher identifier under
// different field names per flavor (spec §4.1 "pusher identifier field
// that differs per flavor").
type giteaPusher struct {
	Username string `json:"username"`
}

type githubPusher struct {
	Name string `json:"name"`
}

// GiteaPushPayload is the subset of a Gitea push webhook body this
// system reads.
type GiteaPushPayload struct {
	Ref        string      `json:"ref"`
	After      string      `json:"after"`
	Repository Repository  `json:"repository"`
	Pusher     giteaPusher `json:"pusher"`
}

// GitHubPushPayload is the subset of a GitHub push webhook body this
// system reads.
type GitHubPushPayload struct {
	Ref        string       `json:"ref"`
	After      string       `json:"after"`
	Repository Repository   `json:"repository"`
	Pusher     githubPusher `json:"pusher"`
}

// PushEvent is the flavor-agnostic result of parsing either payload.
type PushEvent struct {
	Repo   string
	Branch string
	Commit string
	Author string
}

func (p GiteaPushPayload) toEvent() PushEvent {
	return PushEvent{
		Repo:   p.Repository.FullName,
		Branch: branchFromRef(p.Ref),
		Commit: p.After,
		Author: p.Pusher.Username,
	}
}

func (p GitHubPushPayload) toEvent() PushEvent {
	return PushEvent{
		Repo:   p.Repository.FullName,
		Branch: branchFromRef(p.Ref),
		Commit: p.After,
		Author: p.Pusher.Name,
	}
}

// branchFromRef extracts "main" from "refs/heads/main", or returns the
// input unchanged if it isn't a refs/heads/ ref (spec §4.1: "extract
// the trailing segment if desired, otherwise store as-is").
func branchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if strings.HasPrefix(ref, prefix) {
		return strings.TrimPrefix(ref, prefix)
	}
	return ref
}
