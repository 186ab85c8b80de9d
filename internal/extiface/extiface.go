// Package extiface declares the boundary to every external collaborator
// this module treats as out of scope (spec §1, §6): infra installers,
// the config/CLI surface beyond the env-driven binary entrypoints, the
// TUI dashboard, git cloning and concrete build-tool invocation.
//
// Grounded on the teacher's internal/platform package (docker.go,
// tailscale.go), which defines a narrow interface plus a
// GetXxxManager() factory for each external system it doesn't fully
// own, rather than calling out to that system inline. The same shape
// is used here: one interface per collaborator, and a no-op shim
// implementation standing in for the real adapter so the rest of the
// module can be wired and tested against the boundary without pulling
// in a Kubernetes client, a Git library, or a secrets backend.
package extiface

import (
	"context"
	"fmt"
)

// K8sInstaller provisions the cluster raibid-ci's worker pool runs on.
// The real implementation is an excluded collaborator (spec §1).
type K8sInstaller interface {
	// EnsureCluster brings a cluster named name up to the given worker
	// node count, creating or scaling it as needed.
	EnsureCluster(ctx context.Context, name string, nodes int) error
	// IsReady reports whether the cluster is reachable and schedulable.
	IsReady(ctx context.Context, name string) (bool, error)
}

// GitServerInstaller stands up the Gitea/GitHub-compatible git server
// that webhook.Handler receives pushes from.
type GitServerInstaller interface {
	Install(ctx context.Context) error
	Upgrade(ctx context.Context, version string) error
}

// SecretStore resolves webhook HMAC secrets and registry credentials
// from whatever secrets backend an operator has chosen (Vault, sealed
// secrets, a cloud KMS) instead of the raw env vars the cmd/ binaries
// read today.
type SecretStore interface {
	GetSecret(ctx context.Context, key string) (string, error)
	PutSecret(ctx context.Context, key, value string) error
}

// Autoscaler reacts to queue.Client.Depth by adjusting the worker pool
// size. queue.Client.Depth exposes the depth signal; actually scaling
// the pool up or down is this excluded collaborator's job.
type Autoscaler interface {
	// Observe reports the current queue depth and in-flight worker
	// count so the autoscaler can decide whether to scale.
	Observe(ctx context.Context, queueDepth, activeWorkers int) error
	// DesiredReplicas returns the worker count the autoscaler currently
	// wants running.
	DesiredReplicas(ctx context.Context) (int, error)
}

// GitOpsController reconciles cluster state against a git repository
// of manifests, the deployment path for the worker pool itself.
type GitOpsController interface {
	Sync(ctx context.Context, repoURL, ref string) error
	Status(ctx context.Context) (string, error)
}

// ConfigLoader resolves operator configuration beyond the flat env
// vars spec §external interfaces lists (PIPELINE_CONFIG is the one
// config surface this module implements directly; anything richer —
// layered files, remote config services — is this collaborator).
type ConfigLoader interface {
	Load(ctx context.Context, path string) (map[string]string, error)
}

// CLIClient is the full interactive TUI/CLI surface. cmd/raibid-jobs
// is a minimal, non-interactive stand-in that exercises the Query API
// directly; a richer terminal client implements this interface.
type CLIClient interface {
	Render(ctx context.Context, jobID string) error
}

// GitCloner fetches a repository at a ref into a local workspace
// directory ahead of a pipeline.Runner invocation. pipeline.Config
// leaves Clone as a caller-supplied func for exactly this reason.
type GitCloner interface {
	Clone(ctx context.Context, repoURL, ref, destDir string) error
}

// BuildStepInvoker runs one opaque pipeline step's command line.
// pipeline.Runner always runs steps through os/exec and has no field
// or option that accepts a BuildStepInvoker.
type BuildStepInvoker interface {
	Invoke(ctx context.Context, dir string, command []string, env []string) (exitCode int, err error)
}

// ErrNotImplemented is returned by every no-op shim below. Callers
// that need the real collaborator should check for it with errors.Is.
var ErrNotImplemented = fmt.Errorf("extiface: external collaborator not implemented")
