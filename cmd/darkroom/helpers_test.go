package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"darkroom/internal/actuator"
	"darkroom/internal/daemon"
	"darkroom/internal/governor"
	"darkroom/internal/jobs"
	"darkroom/internal/orchestrator"
	"darkroom/internal/testsupport"
)

type cliTestEnv struct {
	daemon     *daemon.Daemon
	stub       *testsupport.StubEngine
	baseURL    string
	configPath string
}

type calmSampler struct{}

func (calmSampler) Sample(ctx context.Context) (governor.Sample, error) {
	return governor.Sample{CPUPercent: 10, FreeMemMB: 8000}, nil
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Orchestrator.PollIntervalSeconds = 1

	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf("[paths]\ndata_dir = %q\nlog_dir = %q\napi_bind = \"127.0.0.1:0\"\n",
		cfg.Paths.DataDir, cfg.Paths.LogDir)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	stub := &testsupport.StubEngine{Result: actuator.DispatchResult{ResultPath: "/out/cli.jpg"}}
	engine := orchestrator.New(cfg, store, stub, calmSampler{}, nil, nil, nil)

	d, err := daemon.New(cfg, store, engine, nil)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	return &cliTestEnv{
		daemon:     d,
		stub:       stub,
		baseURL:    "http://" + d.APIAddr(),
		configPath: configPath,
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--config", env.configPath, "--api", env.baseURL}, args...)
	return runCLI(t, full...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, output)
	}
}
