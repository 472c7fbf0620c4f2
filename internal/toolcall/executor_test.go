package toolcall

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterDuplicateRejects(t *testing.T) {
	r := NewRegistry()
	h := func(ctx Context, args string) (any, error) { return nil, nil }
	if err := r.Register("f", Schema{}, h, Parallel); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("f", Schema{}, h, Parallel); err == nil {
		t.Fatalf("expected duplicate registration to be rejected")
	}
}

func TestValidateRequiredAndTypes(t *testing.T) {
	schema := Schema{
		Properties: map[string]Property{
			"city":  {Type: "string"},
			"count": {Type: "integer"},
		},
		Required: []string{"city"},
	}
	if err := Validate(schema, `{"count": 3}`); err == nil {
		t.Fatalf("expected missing required field to fail")
	}
	if err := Validate(schema, `{"city": "NYC", "count": 3}`); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if err := Validate(schema, `{"city": "NYC", "count": 3.5}`); err == nil {
		t.Fatalf("expected non-integer count to fail validation")
	}
}

func TestExecuteSequentialThenParallelOrdering(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	var order []string

	record := func(name string) Handler {
		return func(ctx Context, args string) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}
	must(t, r.Register("seq1", Schema{}, record("seq1"), Sequential))
	must(t, r.Register("seq2", Schema{}, record("seq2"), Sequential))
	must(t, r.Register("par1", Schema{}, record("par1"), Parallel))

	exec := NewExecutor(r, DefaultExecutorConfig())
	calls := []Call{
		{CallID: "c3", Name: "par1"},
		{CallID: "c1", Name: "seq1"},
		{CallID: "c2", Name: "seq2"},
	}
	results := exec.Execute(context.Background(), "s1", "t1", calls, StartEndHook{})

	if len(order) < 2 || order[0] != "seq1" || order[1] != "seq2" {
		t.Fatalf("sequential tools did not run first/in-order: %v", order)
	}
	if results[1].ToolName != "seq1" || !results[1].Success {
		t.Fatalf("unexpected seq1 result: %+v", results[1])
	}
	if results[0].ToolName != "par1" || !results[0].Success {
		t.Fatalf("unexpected par1 result: %+v", results[0])
	}
}

func TestExecuteBoundedConcurrency(t *testing.T) {
	r := NewRegistry()
	var running int32
	var maxObserved int32
	block := make(chan struct{})

	for i := 0; i < 5; i++ {
		name := []string{"a", "b", "c", "d", "e"}[i]
		must(t, r.Register(name, Schema{}, func(ctx Context, args string) (any, error) {
			cur := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if cur <= old || atomic.CompareAndSwapInt32(&maxObserved, old, cur) {
					break
				}
			}
			<-block
			atomic.AddInt32(&running, -1)
			return nil, nil
		}, Parallel))
	}

	exec := NewExecutor(r, ExecutorConfig{MaxParallel: 2, PerCallTimeout: time.Second, ValidateArgs: false})
	calls := []Call{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}, {Name: "e"}}

	done := make(chan struct{})
	go func() {
		exec.Execute(context.Background(), "s", "t", calls, StartEndHook{})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	close(block)
	<-done

	if atomic.LoadInt32(&maxObserved) > 2 {
		t.Fatalf("max concurrent = %d, want <= 2", maxObserved)
	}
}

func TestExecutePerCallTimeout(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register("slow", Schema{}, func(ctx Context, args string) (any, error) {
		<-ctx.Ctx.Done()
		return nil, ctx.Ctx.Err()
	}, Parallel))

	exec := NewExecutor(r, ExecutorConfig{MaxParallel: 1, PerCallTimeout: 10 * time.Millisecond, ValidateArgs: false})
	results := exec.Execute(context.Background(), "s", "t", []Call{{CallID: "c1", Name: "slow"}}, StartEndHook{})
	if results[0].Success {
		t.Fatalf("expected timeout failure, got success")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := NewExecutor(NewRegistry(), DefaultExecutorConfig())
	results := exec.Execute(context.Background(), "s", "t", []Call{{CallID: "c1", Name: "nope"}}, StartEndHook{})
	if results[0].Success {
		t.Fatalf("expected failure for unknown tool")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
