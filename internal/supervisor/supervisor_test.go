package supervisor

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestMergedEnv(t *testing.T) {
	env := mergedEnv([]string{"A=1", "TZ=America/Chicago"}, map[string]string{"TZ": "UTC", "B": "2"})
	want := map[string]string{"A": "1", "TZ": "UTC", "B": "2"}
	for _, kv := range env {
		k, v, ok := splitEnvKV(kv)
		if !ok {
			continue
		}
		if wantV, ok := want[k]; ok && v != wantV {
			t.Fatalf("%s=%s want %s", k, v, wantV)
		}
	}
}

func TestMergedEnvStripsIPTVGWControlVarsForChildren(t *testing.T) {
	base := []string{
		"A=1",
		"IPTVGW_BASE_URL=http://gateway:5004",
		"IPTVGW_CACHE_DIR=/var/cache/iptvgw",
		"TZ=UTC",
	}
	out := mergedEnv(base, map[string]string{
		"DISPLAY": ":91",
		"TZ":      "America/Regina",
	})
	got := map[string]string{}
	for _, kv := range out {
		k, v, ok := splitEnvKV(kv)
		if ok {
			got[k] = v
		}
	}
	if _, ok := got["IPTVGW_BASE_URL"]; ok {
		t.Fatalf("gateway control env should not be inherited by children: %+v", got)
	}
	if got["A"] != "1" || got["DISPLAY"] != ":91" || got["TZ"] != "America/Regina" {
		t.Fatalf("unexpected merged env: %+v", got)
	}
}

func TestStartAndStop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := Start(ctx, Spec{
		Name:      "sleeper",
		Path:      "sleep",
		Args:      []string{"30"},
		KillGrace: 500 * time.Millisecond,
	})
	if err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	if p.Pid() == 0 {
		t.Fatal("expected non-zero pid")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStdoutIsReadable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := Start(ctx, Spec{Name: "echoer", Path: "echo", Args: []string{"hello"}})
	if err != nil {
		t.Skipf("echo not available: %v", err)
	}
	out, _ := io.ReadAll(p.Stdout())
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("stdout = %q, want %q", out, "hello\n")
	}
}

func splitEnvKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
