package extiface

import (
	"context"
	"errors"
	"testing"
)

func TestNoopSecretStoreRoundTrips(t *testing.T) {
	s := NewNoopSecretStore()
	ctx := context.Background()

	if _, err := s.GetSecret(ctx, "missing"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for missing key, got %v", err)
	}

	if err := s.PutSecret(ctx, "webhook.gitea", "s3cr3t"); err != nil {
		t.Fatalf("PutSecret: %v", err)
	}
	got, err := s.GetSecret(ctx, "webhook.gitea")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if got != "s3cr3t" {
		t.Fatalf("got %q, want s3cr3t", got)
	}
}

func TestNoopAutoscalerReturnsFixedReplicas(t *testing.T) {
	a := NoopAutoscaler{FixedReplicas: 3}
	ctx := context.Background()

	if err := a.Observe(ctx, 10, 1); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	n, err := a.DesiredReplicas(ctx)
	if err != nil {
		t.Fatalf("DesiredReplicas: %v", err)
	}
	if n != 3 {
		t.Fatalf("got %d, want 3", n)
	}
}

func TestNoopConfigLoaderReturnsEmptyMap(t *testing.T) {
	cfg, err := NoopConfigLoader{}.Load(context.Background(), "/etc/raibid/config.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg) != 0 {
		t.Fatalf("expected empty config, got %v", cfg)
	}
}

func TestNoopImplementationsRefuseWork(t *testing.T) {
	ctx := context.Background()

	if err := (NoopK8sInstaller{}).EnsureCluster(ctx, "prod", 3); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("EnsureCluster: got %v", err)
	}
	if ready, err := (NoopK8sInstaller{}).IsReady(ctx, "prod"); ready || !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("IsReady: got (%v, %v)", ready, err)
	}
	if err := (NoopGitServerInstaller{}).Install(ctx); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Install: got %v", err)
	}
	if err := (NoopGitOpsController{}).Sync(ctx, "git@example.com/ops", "main"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Sync: got %v", err)
	}
	if err := (NoopGitCloner{}).Clone(ctx, "git@example.com/app", "main", "/tmp/ws"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Clone: got %v", err)
	}
	if code, err := (NoopBuildStepInvoker{}).Invoke(ctx, "/tmp/ws", []string{"echo", "hi"}, nil); code != -1 || !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Invoke: got (%d, %v)", code, err)
	}
}

// Compile-time assertions that every shim satisfies its interface.
var (
	_ K8sInstaller       = NoopK8sInstaller{}
	_ GitServerInstaller = NoopGitServerInstaller{}
	_ SecretStore        = (*NoopSecretStore)(nil)
	_ Autoscaler         = NoopAutoscaler{}
	_ GitOpsController   = NoopGitOpsController{}
	_ ConfigLoader       = NoopConfigLoader{}
	_ CLIClient          = NoopCLIClient{}
	_ GitCloner          = NoopGitCloner{}
	_ BuildStepInvoker   = NoopBuildStepInvoker{}
)
