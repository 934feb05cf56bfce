package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowscript/flow/internal/bytecode"
	"github.com/flowscript/flow/internal/sandbox"
)

// stubLauncher resolves each launched command through a behavior function and
// records launch order. Commands are the step names in these tests.
type stubLauncher struct {
	mu       sync.Mutex
	launches []string
	behavior func(spec sandbox.Spec) sandbox.Result
}

func (s *stubLauncher) Launch(ctx context.Context, spec sandbox.Spec) sandbox.Result {
	s.mu.Lock()
	s.launches = append(s.launches, spec.Command)
	s.mu.Unlock()
	if s.behavior != nil {
		return s.behavior(spec)
	}
	return sandbox.Result{Outcome: sandbox.Succeeded}
}

func (s *stubLauncher) launched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.launches...)
}

func (s *stubLauncher) count(command string) int {
	n := 0
	for _, c := range s.launched() {
		if c == command {
			n++
		}
	}
	return n
}

// memNotifier records dispatched notifications in memory.
type memNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (m *memNotifier) Dispatch(ctx context.Context, n Notification) error {
	m.mu.Lock()
	m.sent = append(m.sent, n)
	m.mu.Unlock()
	return nil
}

func (m *memNotifier) all() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.sent...)
}

func step(index int, name string, deps []int, retries int) bytecode.StepRecord {
	if deps == nil {
		deps = []int{}
	}
	return bytecode.StepRecord{Index: index, Name: name, Command: name, DependsOn: deps, Retries: retries}
}

func testDoc(steps ...bytecode.StepRecord) *bytecode.Document {
	return &bytecode.Document{
		Version:  bytecode.Version,
		Workflow: bytecode.WorkflowMeta{Name: "test"},
		Steps:    steps,
	}
}

func TestExecuteDiamondGraph(t *testing.T) {
	stub := &stubLauncher{}
	eng := New(Options{Workers: 4}, stub, nil)

	g := NewGraph(testDoc(
		step(0, "a", nil, 0),
		step(1, "b", []int{0}, 0),
		step(2, "c", []int{0}, 0),
		step(3, "d", []int{1, 2}, 0),
	))
	run, err := eng.Execute(context.Background(), g)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Outcome() != RunSucceeded {
		t.Fatalf("outcome = %s", run.Outcome())
	}
	for name, state := range run.StepStates() {
		if state != Succeeded {
			t.Errorf("step %s = %s", name, state)
		}
	}

	order := stub.launched()
	if len(order) != 4 {
		t.Fatalf("launched %v", order)
	}
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	for _, edge := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if pos[edge[0]] > pos[edge[1]] {
			t.Errorf("%s launched after its dependent %s: %v", edge[0], edge[1], order)
		}
	}
}

func TestExecuteRetriesThenFailsAndSkipsDependents(t *testing.T) {
	stub := &stubLauncher{behavior: func(spec sandbox.Spec) sandbox.Result {
		if spec.Command == "flaky" {
			return sandbox.Result{Outcome: sandbox.ExitFailure, ExitCode: 1}
		}
		return sandbox.Result{Outcome: sandbox.Succeeded}
	}}
	notifier := &memNotifier{}
	eng := New(Options{Workers: 2}, stub, notifier)

	doc := testDoc(
		step(0, "ok", nil, 0),
		step(1, "flaky", []int{0}, 2),
		step(2, "downstream", []int{1}, 0),
	)
	doc.Steps[1].OnError = "oncall"
	doc.Env = map[string]string{"TEAM": "platform"}
	doc.Notify = []bytecode.NotifyRule{
		{Name: "wide", Email: "all@example.com", Subject: "run failed"},
		{Name: "oncall", Email: "oncall@example.com", Subject: "step ${failed_step} failed", Body: "team ${TEAM}, step ${failed_step}"},
	}

	run, err := eng.Execute(context.Background(), NewGraph(doc))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Outcome() != RunFailed {
		t.Fatalf("outcome = %s", run.Outcome())
	}

	// retries 2 means three attempts in total.
	if n := stub.count("flaky"); n != 3 {
		t.Errorf("flaky launched %d times, want 3", n)
	}
	states := run.StepStates()
	if states["ok"] != Succeeded || states["flaky"] != Failed || states["downstream"] != Skipped {
		t.Errorf("states = %v", states)
	}
	if n := stub.count("downstream"); n != 0 {
		t.Errorf("skipped step was launched %d times", n)
	}

	sent := notifier.all()
	if len(sent) != 2 {
		t.Fatalf("got %d notifications, want one per rule: %v", len(sent), sent)
	}
	// The failing step's own on_error rule goes out first.
	if sent[0].Rule != "oncall" {
		t.Errorf("first rule = %q, want oncall", sent[0].Rule)
	}
	if sent[0].Subject != "step flaky failed" {
		t.Errorf("subject = %q", sent[0].Subject)
	}
	if sent[0].Body != "team platform, step flaky" {
		t.Errorf("body = %q", sent[0].Body)
	}
	if sent[0].FailedStep != "flaky" {
		t.Errorf("failed step = %q", sent[0].FailedStep)
	}
}

func TestExecuteNotifiesAtMostOncePerRun(t *testing.T) {
	stub := &stubLauncher{behavior: func(spec sandbox.Spec) sandbox.Result {
		return sandbox.Result{Outcome: sandbox.ExitFailure, ExitCode: 1}
	}}
	notifier := &memNotifier{}
	eng := New(Options{Workers: 2}, stub, notifier)

	doc := testDoc(
		step(0, "left", nil, 0),
		step(1, "right", nil, 0),
	)
	doc.Notify = []bytecode.NotifyRule{{Name: "ops", Email: "ops@example.com"}}

	run, err := eng.Execute(context.Background(), NewGraph(doc))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Outcome() != RunFailed {
		t.Fatalf("outcome = %s", run.Outcome())
	}
	if sent := notifier.all(); len(sent) != 1 {
		t.Errorf("got %d notifications, want 1 despite two failures", len(sent))
	}
}

func TestExecuteRetryRecoversFromTimeout(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	stub := &stubLauncher{behavior: func(spec sandbox.Spec) sandbox.Result {
		if spec.Command != "slow" {
			return sandbox.Result{Outcome: sandbox.Succeeded}
		}
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			return sandbox.Result{Outcome: sandbox.TimedOut}
		}
		return sandbox.Result{Outcome: sandbox.Succeeded}
	}}
	eng := New(Options{Workers: 1, RetryBackoff: 10 * time.Millisecond}, stub, nil)

	doc := testDoc(
		step(0, "slow", nil, 1),
		step(1, "after", []int{0}, 0),
	)
	run, err := eng.Execute(context.Background(), NewGraph(doc))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Outcome() != RunSucceeded {
		t.Fatalf("outcome = %s, states %v", run.Outcome(), run.StepStates())
	}
	if n := stub.count("slow"); n != 2 {
		t.Errorf("slow launched %d times, want 2", n)
	}
}

func TestExecuteCancellation(t *testing.T) {
	release := make(chan struct{})
	stub := &stubLauncher{behavior: func(spec sandbox.Spec) sandbox.Result {
		<-release
		return sandbox.Result{Outcome: sandbox.Cancelled, Err: context.Canceled}
	}}
	notifier := &memNotifier{}
	eng := New(Options{Workers: 2}, stub, notifier)

	doc := testDoc(
		step(0, "running", nil, 0),
		step(1, "pending", []int{0}, 0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
		close(release)
	}()

	run, err := eng.Execute(ctx, NewGraph(doc))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Outcome() != RunCancelled {
		t.Fatalf("outcome = %s", run.Outcome())
	}
	// Cancelled steps are cancelled, never failed, and trigger no notifications.
	for name, state := range run.StepStates() {
		if state != Cancelled {
			t.Errorf("step %s = %s, want cancelled", name, state)
		}
	}
	if sent := notifier.all(); len(sent) != 0 {
		t.Errorf("cancellation dispatched %d notifications", len(sent))
	}
}

func TestExecuteEmptyGraph(t *testing.T) {
	eng := New(Options{}, &stubLauncher{}, nil)
	run, err := eng.Execute(context.Background(), NewGraph(testDoc()))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.Outcome() != RunSucceeded {
		t.Errorf("outcome = %s", run.Outcome())
	}
}

func TestExecuteExpandsCommandEnv(t *testing.T) {
	var got string
	var mu sync.Mutex
	stub := &stubLauncher{behavior: func(spec sandbox.Spec) sandbox.Result {
		mu.Lock()
		got = spec.Command
		mu.Unlock()
		return sandbox.Result{Outcome: sandbox.Succeeded}
	}}
	eng := New(Options{Workers: 1}, stub, nil)

	doc := testDoc(bytecode.StepRecord{
		Index: 0, Name: "deploy", Command: "deploy --target ${TARGET}", DependsOn: []int{},
	})
	doc.Env = map[string]string{"TARGET": "staging"}
	if _, err := eng.Execute(context.Background(), NewGraph(doc)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got != "deploy --target staging" {
		t.Errorf("command = %q", got)
	}
}

func TestExecuteEventStream(t *testing.T) {
	stub := &stubLauncher{}
	eng := New(Options{Workers: 1}, stub, nil)
	events := eng.Events().Subscribe()

	g := NewGraph(testDoc(step(0, "only", nil, 0)))
	run, err := eng.Execute(context.Background(), g)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	var transitions []string
stream:
	for ev := range events {
		switch e := ev.(type) {
		case StepEvent:
			if e.RunID != run.ID {
				t.Errorf("event run id = %s, want %s", e.RunID, run.ID)
			}
			transitions = append(transitions, e.To.String())
		case RunEvent:
			if e.Outcome != RunSucceeded {
				t.Errorf("run event outcome = %s", e.Outcome)
			}
			break stream
		}
	}
	want := "ready running succeeded"
	if strings.Join(transitions, " ") != want {
		t.Errorf("transitions = %v, want %q", transitions, want)
	}
}

func TestRegistryTracksRuns(t *testing.T) {
	stub := &stubLauncher{}
	eng := New(Options{Workers: 1}, stub, nil)
	g := NewGraph(testDoc(step(0, "a", nil, 0)))
	run, err := eng.Execute(context.Background(), g)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	got, ok := eng.Registry().Get(run.ID)
	if !ok || got != run {
		t.Fatalf("registry lookup failed")
	}
	if list := eng.Registry().List(); len(list) != 1 || list[0] != run {
		t.Errorf("registry list = %v", list)
	}
	if run.FinishedAt().Before(run.StartedAt()) {
		t.Errorf("finished %v before started %v", run.FinishedAt(), run.StartedAt())
	}
}

func TestGraphIndependencePerRun(t *testing.T) {
	doc := testDoc(step(0, "a", nil, 0), step(1, "b", []int{0}, 0))
	g1 := NewGraph(doc)
	g2 := NewGraph(doc)

	eng := New(Options{Workers: 1}, &stubLauncher{}, nil)
	if _, err := eng.Execute(context.Background(), g1); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	for _, node := range g2.Steps {
		if node.State() != Pending || node.Attempts() != 0 {
			t.Errorf("second graph mutated: %s state=%s attempts=%d", node.Name, node.State(), node.Attempts())
		}
	}
	if _, err := eng.Execute(context.Background(), g2); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
}
