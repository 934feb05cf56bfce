package sandbox

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestLaunchSucceeds(t *testing.T) {
	l := &ShellLauncher{}
	var out bytes.Buffer
	res := l.Launch(context.Background(), Spec{
		Command: "echo hello",
		Stdout:  &out,
	})
	if res.Outcome != Succeeded {
		t.Fatalf("outcome = %s (err %v)", res.Outcome, res.Err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
	if strings.TrimSpace(out.String()) != "hello" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestLaunchExitFailure(t *testing.T) {
	l := &ShellLauncher{}
	res := l.Launch(context.Background(), Spec{Command: "exit 3"})
	if res.Outcome != ExitFailure {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestLaunchEnv(t *testing.T) {
	l := &ShellLauncher{}
	var out bytes.Buffer
	res := l.Launch(context.Background(), Spec{
		Command: `echo "$GREETING"`,
		Env:     map[string]string{"GREETING": "bonjour"},
		Stdout:  &out,
	})
	if res.Outcome != Succeeded {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if strings.TrimSpace(out.String()) != "bonjour" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestLaunchWorkdir(t *testing.T) {
	dir := t.TempDir()
	l := &ShellLauncher{}
	var out bytes.Buffer
	res := l.Launch(context.Background(), Spec{Command: "pwd", Dir: dir, Stdout: &out})
	if res.Outcome != Succeeded {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if strings.TrimSpace(out.String()) != dir {
		t.Errorf("pwd = %q, want %q", out.String(), dir)
	}
}

func TestLaunchTimeout(t *testing.T) {
	l := &ShellLauncher{}
	start := time.Now()
	res := l.Launch(context.Background(), Spec{
		Command: "sleep 10",
		Timeout: 100 * time.Millisecond,
	})
	if res.Outcome != TimedOut {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill took %v, process was not terminated promptly", elapsed)
	}
}

func TestLaunchCancellation(t *testing.T) {
	l := &ShellLauncher{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	res := l.Launch(ctx, Spec{Command: "sleep 10"})
	if res.Outcome != Cancelled {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill took %v", elapsed)
	}
}
