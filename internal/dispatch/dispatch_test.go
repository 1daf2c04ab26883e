package dispatch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type fakeTarget struct {
	desc Descriptor

	mu       sync.Mutex
	log      []string
	connects int
	fn       func(ctx context.Context, cmd Command) (any, error)
}

func newFakeTarget(name string) *fakeTarget {
	return &fakeTarget{desc: Descriptor{UUID: name + "-uuid", Name: name, Kind: "fake"}}
}

func (f *fakeTarget) Descriptor() Descriptor { return f.desc }

func (f *fakeTarget) Execute(ctx context.Context, cmd Command) (any, error) {
	f.mu.Lock()
	if cmd.Op == OpConnect {
		f.connects++
		f.mu.Unlock()
		return nil, nil
	}
	f.log = append(f.log, string(cmd.Op)+":"+argString(cmd))
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, cmd)
	}
	return argString(cmd), nil
}

func (f *fakeTarget) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.log)
}

func argString(cmd Command) string {
	if len(cmd.Args) == 0 {
		return ""
	}
	s, _ := cmd.Args[0].(string)
	return s
}

func cmdFor(f *fakeTarget, op Op, arg string) Command {
	return Command{Target: f.desc.UUID, Instrument: f.desc.Name, Op: op, Args: []any{arg}}
}

func connect(t *testing.T, hub *Hub, name string, target Target, extras map[string]any) (*Remote, map[string]any) {
	t.Helper()

	disp, shared, err := hub.Connect(context.Background(), name, target, extras)
	if err != nil {
		t.Fatalf("Connect(%q) error = %v", name, err)
	}
	r, ok := disp.(*Remote)
	if !ok {
		t.Fatalf("Connect returned %T, want *Remote", disp)
	}
	t.Cleanup(func() { r.Close() })
	return r, shared
}

func newHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Shutdown(ctx) //nolint:errcheck // best-effort cleanup
	})
	return hub
}

func TestLocal_PostSurfacesErrorImmediately(t *testing.T) {
	target := newFakeTarget("dmm")
	target.fn = func(_ context.Context, cmd Command) (any, error) {
		if cmd.Op == OpWrite {
			return nil, errBoom
		}
		return "ok", nil
	}
	l := NewLocal(target)
	ctx := context.Background()

	if err := l.Post(ctx, cmdFor(target, OpWrite, "VOLT 1")); !errors.Is(err, errBoom) {
		t.Errorf("Post() error = %v, want %v", err, errBoom)
	}
	got, err := l.Call(ctx, cmdFor(target, OpAsk, "*IDN?"))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Call() = %v, want ok", got)
	}
}

func TestRemote_PreservesSubmissionOrder(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	r, _ := connect(t, hub, "bus", target, nil)
	ctx := context.Background()

	if err := r.Post(ctx, cmdFor(target, OpWrite, "a")); err != nil {
		t.Fatalf("Post(a) error = %v", err)
	}
	if err := r.Post(ctx, cmdFor(target, OpWrite, "b")); err != nil {
		t.Fatalf("Post(b) error = %v", err)
	}
	got, err := r.Call(ctx, cmdFor(target, OpAsk, "c"))
	if err != nil {
		t.Fatalf("Call(c) error = %v", err)
	}
	if got != "c" {
		t.Errorf("Call(c) = %v, want c", got)
	}

	want := []string{"write:a", "write:b", "ask:c"}
	if seen := target.seen(); !slices.Equal(seen, want) {
		t.Errorf("execution order = %v, want %v", seen, want)
	}
}

func TestRemote_PostFailureReportedOnNextCall(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	target.fn = failOnBad
	r, _ := connect(t, hub, "bus", target, nil)
	ctx := context.Background()

	if err := r.Post(ctx, cmdFor(target, OpWrite, "bad")); err != nil {
		t.Fatalf("Post(bad) error = %v, want nil at call site", err)
	}

	_, err := r.Call(ctx, cmdFor(target, OpAsk, "next"))
	if !errors.Is(err, ErrDelegateFailure) {
		t.Fatalf("Call() error = %v, want ErrDelegateFailure", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("Call() error = %v, want original cause", err)
	}
	var de *DelegateError
	if !errors.As(err, &de) {
		t.Fatalf("Call() error %T is not a *DelegateError", err)
	}
	if !de.Deferred || de.Op != OpWrite || de.Instrument != "dmm" || de.Message != "boom" {
		t.Errorf("DelegateError = %+v, want deferred write on dmm with message boom", de)
	}

	// Every request still ran, in order.
	want := []string{"write:bad", "ask:next"}
	if seen := target.seen(); !slices.Equal(seen, want) {
		t.Errorf("execution order = %v, want %v", seen, want)
	}

	got, err := r.Call(ctx, cmdFor(target, OpAsk, "after"))
	if err != nil {
		t.Fatalf("second Call() error = %v, want failure reported once", err)
	}
	if got != "after" {
		t.Errorf("second Call() = %v, want after", got)
	}
}

// waitSettled waits until every Post sent through r has been answered.
func waitSettled(t *testing.T, r *Remote) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for r.Outstanding() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d posts still outstanding", r.Outstanding())
		}
		time.Sleep(time.Millisecond)
	}
}

func failOnBad(_ context.Context, cmd Command) (any, error) {
	if argString(cmd) == "bad" {
		return nil, errBoom
	}
	return argString(cmd), nil
}

func TestRemote_PostFailureReportedOnNextPost(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	target.fn = failOnBad
	r, _ := connect(t, hub, "bus", target, nil)
	ctx := context.Background()

	if err := r.Post(ctx, cmdFor(target, OpWrite, "bad")); err != nil {
		t.Fatalf("Post(bad) error = %v, want nil at call site", err)
	}
	waitSettled(t, r)

	err := r.Post(ctx, cmdFor(target, OpWrite, "good"))
	var de *DelegateError
	if !errors.As(err, &de) || !errors.Is(err, errBoom) {
		t.Fatalf("Post(good) error = %v, want the earlier failure", err)
	}
	if !de.Deferred || de.Op != OpWrite {
		t.Errorf("DelegateError = %+v, want deferred write", de)
	}
	waitSettled(t, r)

	// Reported once, on whichever request came next.
	for i := range 3 {
		if err := r.Post(ctx, cmdFor(target, OpWrite, "good")); err != nil {
			t.Errorf("Post #%d error = %v, want nil", i, err)
		}
	}
	if _, err := r.Call(ctx, cmdFor(target, OpAsk, "q")); err != nil {
		t.Errorf("Call() error = %v, want nil", err)
	}

	// The Post carrying the report still executed.
	if seen := target.seen(); len(seen) != 6 || seen[1] != "write:good" {
		t.Errorf("executed = %v", seen)
	}
}

func TestRemote_PostFailureSurvivesDelegateShutdown(t *testing.T) {
	tests := []struct {
		name string
		stop func(d *Delegate) error
	}{
		{"killed", func(d *Delegate) error { d.Kill(errors.New("worker crashed")); return nil }},
		{"stopped", func(d *Delegate) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return d.Stop(ctx)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newHub(t)
			target := newFakeTarget("dmm")
			target.fn = failOnBad
			r, _ := connect(t, hub, "bus", target, nil)
			ctx := context.Background()

			if err := r.Post(ctx, cmdFor(target, OpWrite, "bad")); err != nil {
				t.Fatalf("Post(bad) error = %v", err)
			}
			waitSettled(t, r)

			d, ok := hub.Delegate("bus")
			if !ok {
				t.Fatal("delegate bus not found")
			}
			if err := tt.stop(d); err != nil {
				t.Fatalf("stopping delegate: %v", err)
			}

			_, err := r.Call(ctx, cmdFor(target, OpAsk, "after"))
			if !errors.Is(err, ErrConnectionUnavailable) {
				t.Errorf("Call() error = %v, want ErrConnectionUnavailable", err)
			}
			if !errors.Is(err, errBoom) {
				t.Errorf("Call() error = %v, want the failed post reported", err)
			}

			err = r.Post(ctx, cmdFor(target, OpWrite, "later"))
			if errors.Is(err, errBoom) {
				t.Errorf("Post() error = %v, failure reported twice", err)
			}
		})
	}
}

func TestRemote_DeferredJoinedWithCallError(t *testing.T) {
	hub := newHub(t)
	errRead := errors.New("read timeout")
	target := newFakeTarget("dmm")
	target.fn = func(_ context.Context, cmd Command) (any, error) {
		switch cmd.Op {
		case OpWrite:
			return nil, errBoom
		case OpRead:
			return nil, errRead
		}
		return nil, nil
	}
	r, _ := connect(t, hub, "bus", target, nil)
	ctx := context.Background()

	if err := r.Post(ctx, cmdFor(target, OpWrite, "x")); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	_, err := r.Call(ctx, cmdFor(target, OpRead, ""))
	if !errors.Is(err, errBoom) || !errors.Is(err, errRead) {
		t.Errorf("Call() error = %v, want both post and call failures", err)
	}
}

func TestRemote_CallErrorKeepsIdentity(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	target.fn = func(context.Context, Command) (any, error) { return nil, errBoom }
	r, _ := connect(t, hub, "bus", target, nil)

	_, err := r.Call(context.Background(), cmdFor(target, OpAsk, "*IDN?"))
	if !errors.Is(err, errBoom) || !errors.Is(err, ErrDelegateFailure) {
		t.Fatalf("Call() error = %v, want boom wrapped as delegate failure", err)
	}
	var de *DelegateError
	if !errors.As(err, &de) {
		t.Fatalf("Call() error %T is not a *DelegateError", err)
	}
	if de.Deferred {
		t.Error("Deferred = true for the call's own failure")
	}
	if de.Delegate != "bus" || de.Op != OpAsk {
		t.Errorf("DelegateError = %+v, want delegate bus op ask", de)
	}
}

func TestRemote_NestedCallRunsInPlace(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	var r *Remote
	target.fn = func(ctx context.Context, cmd Command) (any, error) {
		if cmd.Op == OpAsk && argString(cmd) == "outer" {
			if !Running(ctx, "bus") {
				return nil, errors.New("context not marked")
			}
			// Would deadlock if it queued behind the running request.
			if err := r.Post(ctx, cmdFor(target, OpWrite, "inner-post")); err != nil {
				return nil, err
			}
			return r.Call(ctx, cmdFor(target, OpRead, "inner"))
		}
		return argString(cmd), nil
	}
	r, _ = connect(t, hub, "bus", target, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := r.Call(ctx, cmdFor(target, OpAsk, "outer"))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "inner" {
		t.Errorf("Call() = %v, want inner", got)
	}
	want := []string{"ask:outer", "write:inner-post", "read:inner"}
	if seen := target.seen(); !slices.Equal(seen, want) {
		t.Errorf("execution order = %v, want %v", seen, want)
	}
}

func TestRemote_KilledDelegate(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	started := make(chan struct{})
	target.fn = func(ctx context.Context, cmd Command) (any, error) {
		if argString(cmd) == "slow" {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, nil
	}
	r, _ := connect(t, hub, "bus", target, nil)
	ctx := context.Background()

	if err := r.Post(ctx, cmdFor(target, OpWrite, "slow")); err != nil {
		t.Fatalf("Post(slow) error = %v", err)
	}
	<-started
	for _, arg := range []string{"q1", "q2"} {
		if err := r.Post(ctx, cmdFor(target, OpWrite, arg)); err != nil {
			t.Fatalf("Post(%s) error = %v", arg, err)
		}
	}

	d, ok := hub.Delegate("bus")
	if !ok {
		t.Fatal("delegate bus not found")
	}
	d.Kill(errors.New("worker crashed"))

	_, err := r.Call(ctx, cmdFor(target, OpAsk, "after"))
	if !errors.Is(err, ErrConnectionUnavailable) {
		t.Errorf("Call() error = %v, want ErrConnectionUnavailable", err)
	}
	var lost *LostError
	if !errors.As(err, &lost) {
		t.Fatalf("Call() error = %v, want lost posts reported", err)
	}
	if lost.Count != 3 {
		t.Errorf("lost count = %d, want 3", lost.Count)
	}

	// Queued posts were never executed.
	if seen := target.seen(); slices.Contains(seen, "write:q1") || slices.Contains(seen, "write:q2") {
		t.Errorf("queued posts executed after kill: %v", seen)
	}

	// Lost posts are reported once; the delegate stays unavailable.
	err = r.Post(ctx, cmdFor(target, OpWrite, "later"))
	if !errors.Is(err, ErrConnectionUnavailable) {
		t.Errorf("Post() error = %v, want ErrConnectionUnavailable", err)
	}
	if errors.Is(err, ErrPostsLost) {
		t.Errorf("Post() error = %v, lost posts reported twice", err)
	}
}

func TestHub_ExtrasSharedByReference(t *testing.T) {
	hub := newHub(t)
	first := newFakeTarget("a")
	second := newFakeTarget("b")

	_, extrasA := connect(t, hub, "bus", first, map[string]any{"port": "/dev/ttyUSB0"})
	_, extrasB := connect(t, hub, "bus", second, map[string]any{"port": "ignored"})

	if extrasB["port"] != "/dev/ttyUSB0" {
		t.Errorf("second attacher extras port = %v, want first creator's", extrasB["port"])
	}
	extrasA["baud"] = 9600
	if extrasB["baud"] != 9600 {
		t.Error("extras map is not shared between attachers")
	}
}

func TestHub_ConnectRunsOnConnect(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	_, _ = connect(t, hub, "bus", target, nil)

	target.mu.Lock()
	defer target.mu.Unlock()
	if target.connects != 1 {
		t.Errorf("connect ran %d times, want 1", target.connects)
	}
}

func TestHub_ReplacesStoppedDelegate(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	_, _ = connect(t, hub, "bus", target, map[string]any{"gen": 1})

	d, _ := hub.Delegate("bus")
	d.Kill(nil)

	r, extras := connect(t, hub, "bus", target, map[string]any{"gen": 2})
	if extras["gen"] != 2 {
		t.Errorf("extras gen = %v, want 2 from the new creator", extras["gen"])
	}
	if _, err := r.Call(context.Background(), cmdFor(target, OpAsk, "x")); err != nil {
		t.Errorf("Call() on fresh delegate error = %v", err)
	}
}

func TestDelegate_PanicBecomesError(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	target.fn = func(context.Context, Command) (any, error) { panic("driver bug") }
	r, _ := connect(t, hub, "bus", target, nil)

	_, err := r.Call(context.Background(), cmdFor(target, OpAsk, "x"))
	if !errors.Is(err, ErrPanic) {
		t.Errorf("Call() error = %v, want ErrPanic", err)
	}
	var de *DelegateError
	if errors.As(err, &de) && de.Kind != "panic" {
		t.Errorf("Kind = %q, want panic", de.Kind)
	}
}

func TestDelegate_UnknownTarget(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	r, _ := connect(t, hub, "bus", target, nil)

	cmd := cmdFor(target, OpAsk, "x")
	cmd.Target = "nobody"
	if _, err := r.Call(context.Background(), cmd); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("Call() error = %v, want ErrUnknownTarget", err)
	}
}

func TestDelegate_CloseDetachesTarget(t *testing.T) {
	hub := newHub(t)
	target := newFakeTarget("dmm")
	r, _ := connect(t, hub, "bus", target, nil)
	ctx := context.Background()

	if _, err := r.Call(ctx, cmdFor(target, OpClose, "")); err != nil {
		t.Fatalf("Call(close) error = %v", err)
	}
	d, _ := hub.Delegate("bus")
	if got := d.Stats().Targets; got != 0 {
		t.Errorf("Targets = %d after close, want 0", got)
	}
}

func TestDelegate_AttachBuildsTarget(t *testing.T) {
	d := NewDelegate("bus", nil)
	built := newFakeTarget("dmm")
	d.SetBuilder(func(_ context.Context, desc Descriptor, extras map[string]any) (Executor, error) {
		if desc.Kind != "fake" {
			return nil, errors.New("unknown kind")
		}
		extras["built"] = desc.Name
		return built, nil
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { d.Kill(nil) })

	r, err := NewRemote("bus", Pipe(d))
	if err != nil {
		t.Fatalf("NewRemote() error = %v", err)
	}
	ctx := context.Background()

	res, err := r.Call(ctx, AttachCommand(built.desc, map[string]any{"port": "COM3"}))
	if err != nil {
		t.Fatalf("attach error = %v", err)
	}
	extras, ok := res.(map[string]any)
	if !ok || extras["port"] != "COM3" || extras["built"] != "dmm" {
		t.Errorf("attach result = %v, want adopted extras", res)
	}

	got, err := r.Call(ctx, cmdFor(built, OpAsk, "hello"))
	if err != nil || got != "hello" {
		t.Errorf("Call() = %v, %v; want hello", got, err)
	}
}

func TestDelegate_StopDrainsQueue(t *testing.T) {
	d := NewDelegate("bus", nil)
	target := newFakeTarget("dmm")
	d.Attach(target.desc.UUID, target)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r, err := NewRemote("bus", Pipe(d))
	if err != nil {
		t.Fatalf("NewRemote() error = %v", err)
	}
	ctx := context.Background()
	for _, arg := range []string{"1", "2", "3"} {
		if err := r.Post(ctx, cmdFor(target, OpWrite, arg)); err != nil {
			t.Fatalf("Post(%s) error = %v", arg, err)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := len(target.seen()); got != 3 {
		t.Errorf("executed %d posts before stop, want 3", got)
	}
	if err := r.Post(ctx, cmdFor(target, OpWrite, "4")); !errors.Is(err, ErrConnectionUnavailable) {
		t.Errorf("Post() after stop error = %v, want ErrConnectionUnavailable", err)
	}
}

func TestRestoreDelegateError_MatchesRegisteredKind(t *testing.T) {
	RegisterErrorKind("test_boom", errBoom)

	if got := ErrorKind(errBoom); got != "test_boom" {
		t.Errorf("ErrorKind(boom) = %q, want test_boom", got)
	}
	if got := ErrorKind(errors.New("other")); got != KindGeneric {
		t.Errorf("ErrorKind(other) = %q, want %q", got, KindGeneric)
	}

	err := RestoreDelegateError("bus", "dmm", OpAsk, "test_boom", "boom: overrange", false)
	if !errors.Is(err, errBoom) || !errors.Is(err, ErrDelegateFailure) {
		t.Errorf("restored error %v does not match its sentinels", err)
	}
	if want := `delegate "bus": instrument "dmm": ask: boom: overrange`; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	unknown := RestoreDelegateError("bus", "dmm", OpAsk, "no_such_kind", "x", true)
	if !errors.Is(unknown, ErrDelegateFailure) {
		t.Error("restored error of unknown kind lost ErrDelegateFailure")
	}
}

func TestRouter_PicksConnectorByName(t *testing.T) {
	local := newHub(t)
	other := newHub(t)

	router := NewRouter(local)
	router.Route("gpib0", other)

	for _, tc := range []struct {
		delegate string
		want     *Hub
	}{
		{"gpib0", other},
		{"bench", local},
	} {
		target := newFakeTarget("dev-" + tc.delegate)
		disp, _, err := router.Connect(context.Background(), tc.delegate, target, nil)
		if err != nil {
			t.Fatalf("Connect(%q) error = %v", tc.delegate, err)
		}
		t.Cleanup(func() { disp.Close() })

		if _, ok := tc.want.Delegate(tc.delegate); !ok {
			t.Errorf("delegate %q created on the wrong hub", tc.delegate)
		}
	}
}

func TestRouter_NoFallback(t *testing.T) {
	router := NewRouter(nil)
	_, _, err := router.Connect(context.Background(), "nowhere", newFakeTarget("x"), nil)
	if !errors.Is(err, ErrConnectionUnavailable) {
		t.Errorf("Connect() error = %v, want ErrConnectionUnavailable", err)
	}
	if router.Resident("nowhere") {
		t.Error("Resident(nowhere) = true without a connector")
	}
}

type remoteOnly struct{ Connector }

func TestRouter_Resident(t *testing.T) {
	router := NewRouter(newHub(t))
	router.Route("worker", remoteOnly{})

	if !router.Resident("bench") {
		t.Error("hub route should be resident")
	}
	if router.Resident("worker") {
		t.Error("non-resident route reported resident")
	}
	if !IsResident(newHub(t), "any") {
		t.Error("IsResident(hub) = false")
	}
}
