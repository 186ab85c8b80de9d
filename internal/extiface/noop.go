package extiface

import "context"

// NoopK8sInstaller never mutates anything: EnsureCluster returns
// ErrNotImplemented and IsReady reports false with ErrNotImplemented.
// Useful in tests that need a K8sInstaller but never touch a real
// cluster.
type NoopK8sInstaller struct{}

func (NoopK8sInstaller) EnsureCluster(ctx context.Context, name string, nodes int) error {
	return ErrNotImplemented
}

func (NoopK8sInstaller) IsReady(ctx context.Context, name string) (bool, error) {
	return false, ErrNotImplemented
}

// NoopGitServerInstaller refuses every call.
type NoopGitServerInstaller struct{}

func (NoopGitServerInstaller) Install(ctx context.Context) error { return ErrNotImplemented }

func (NoopGitServerInstaller) Upgrade(ctx context.Context, version string) error {
	return ErrNotImplemented
}

// NoopSecretStore backs SecretStore with an in-memory map, useful for
// tests that need to exercise a SecretStore-shaped dependency without
// a real backend. Zero value is an empty, write-through store.
type NoopSecretStore struct {
	values map[string]string
}

func NewNoopSecretStore() *NoopSecretStore {
	return &NoopSecretStore{values: make(map[string]string)}
}

func (s *NoopSecretStore) GetSecret(ctx context.Context, key string) (string, error) {
	if s.values == nil {
		return "", ErrNotImplemented
	}
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotImplemented
	}
	return v, nil
}

func (s *NoopSecretStore) PutSecret(ctx context.Context, key, value string) error {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	return nil
}

// NoopAutoscaler always reports zero observed demand and a fixed
// desired replica count.
type NoopAutoscaler struct {
	FixedReplicas int
}

func (a NoopAutoscaler) Observe(ctx context.Context, queueDepth, activeWorkers int) error {
	return nil
}

func (a NoopAutoscaler) DesiredReplicas(ctx context.Context) (int, error) {
	return a.FixedReplicas, nil
}

// NoopGitOpsController never syncs.
type NoopGitOpsController struct{}

func (NoopGitOpsController) Sync(ctx context.Context, repoURL, ref string) error {
	return ErrNotImplemented
}

func (NoopGitOpsController) Status(ctx context.Context) (string, error) {
	return "unknown", nil
}

// NoopConfigLoader always returns an empty config, meaning "use
// defaults."
type NoopConfigLoader struct{}

func (NoopConfigLoader) Load(ctx context.Context, path string) (map[string]string, error) {
	return map[string]string{}, nil
}

// NoopCLIClient discards every render request.
type NoopCLIClient struct{}

func (NoopCLIClient) Render(ctx context.Context, jobID string) error { return nil }

// NoopGitCloner refuses to clone. pipeline.Runner does not use a
// GitCloner (a nil pipeline.Config.Clone falls back to running git);
// this shim exists only so code that takes a GitCloner compiles and
// fails loudly if actually invoked.
type NoopGitCloner struct{}

func (NoopGitCloner) Clone(ctx context.Context, repoURL, ref, destDir string) error {
	return ErrNotImplemented
}

// NoopBuildStepInvoker refuses to run anything.
type NoopBuildStepInvoker struct{}

func (NoopBuildStepInvoker) Invoke(ctx context.Context, dir string, command []string, env []string) (int, error) {
	return -1, ErrNotImplemented
}
