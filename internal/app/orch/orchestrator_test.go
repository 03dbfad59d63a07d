package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/Sketch/internal/app"
	"github.com/dkeye/Sketch/internal/core"
	"github.com/dkeye/Sketch/internal/domain"
	"github.com/dkeye/Sketch/internal/metrics"
)

type textCodec struct{}

func (textCodec) Joined() (core.Frame, error) { return core.Frame("joined"), nil }

func (textCodec) History(s domain.Snapshot) (core.Frame, error) {
	b, err := json.Marshal(s)
	return core.Frame("history:" + string(b)), err
}

func (textCodec) Draw(op domain.DrawOp) (core.Frame, error) {
	return core.Frame("draw:" + string(op)), nil
}

type recConn struct {
	mu     sync.Mutex
	frames []string
	full   bool
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, string(f))
	return nil
}

func (c *recConn) Close() {}

func (c *recConn) take() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

type presenceCall struct{ op, code, sid string }

type recPresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (p *recPresence) record(op, code, sid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{op, code, sid})
	return nil
}

func (p *recPresence) Join(_ context.Context, code, sid string) error {
	return p.record("join", code, sid)
}

func (p *recPresence) Leave(_ context.Context, code, sid string) error {
	return p.record("leave", code, sid)
}

func (p *recPresence) Touch(_ context.Context, code, sid string) error {
	return p.record("touch", code, sid)
}

func (p *recPresence) Members(context.Context, string) ([]string, error) { return nil, nil }

type harness struct {
	o        *Orchestrator
	presence *recPresence
	canceled map[core.SessionID]bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{presence: &recPresence{}, canceled: map[core.SessionID]bool{}}
	h.o = &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(textCodec{}),
		Policy:   app.SilentPolicy{},
		Presence: h.presence,
		Metrics:  metrics.New(prometheus.NewRegistry()),
	}
	return h
}

func (h *harness) connect(sid core.SessionID) *recConn {
	conn := &recConn{}
	sess := core.NewMemberSession(domain.NewMember("tok", time.Now()), conn)
	h.o.Connect(sid, sess, func() { h.canceled[sid] = true })
	return conn
}

func assertFrames(t *testing.T, who string, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s got %q, want %q", who, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s frame %d = %q, want %q", who, i, got[i], want[i])
		}
	}
}

const (
	emptyHistory = `history:{"history":[],"redoStack":[]}`
)

func TestScenarioDrawUndoRedo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect("a")
	b := h.connect("b")

	if err := h.o.Join(ctx, "a", "ABC"); err != nil {
		t.Fatalf("Join(a) error = %v", err)
	}
	assertFrames(t, "a", a.take(), "joined", emptyHistory)
	if err := h.o.Join(ctx, "b", "ABC"); err != nil {
		t.Fatalf("Join(b) error = %v", err)
	}
	b.take()

	for _, op := range []string{`"op1"`, `"op2"`} {
		if err := h.o.Draw("a", "ABC", domain.DrawOp(op)); err != nil {
			t.Fatalf("Draw(%s) error = %v", op, err)
		}
	}
	assertFrames(t, "a", a.take())
	assertFrames(t, "b", b.take(), `draw:"op1"`, `draw:"op2"`)

	if err := h.o.Undo("a", "ABC"); err != nil {
		t.Fatalf("Undo() error = %v", err)
	}
	want := `history:{"history":["op1"],"redoStack":["op2"]}`
	assertFrames(t, "a", a.take(), want)
	assertFrames(t, "b", b.take(), want)

	if err := h.o.Redo("b", "ABC"); err != nil {
		t.Fatalf("Redo() error = %v", err)
	}
	want = `history:{"history":["op1","op2"],"redoStack":[]}`
	assertFrames(t, "a", a.take(), want)
	assertFrames(t, "b", b.take(), want)
}

func TestJoinExistingRoomReplaysWithoutMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")
	if err := h.o.Join(ctx, "a", "ABC"); err != nil {
		t.Fatal(err)
	}
	if err := h.o.Draw("a", "ABC", domain.DrawOp(`"op1"`)); err != nil {
		t.Fatal(err)
	}

	late := h.connect("late")
	if err := h.o.Join(ctx, "late", "ABC"); err != nil {
		t.Fatal(err)
	}
	assertFrames(t, "late", late.take(), "joined", `history:{"history":["op1"],"redoStack":[]}`)

	room, _ := h.o.Rooms.Get("ABC")
	if n := len(room.Snapshot().History); n != 1 {
		t.Fatalf("history len = %d after join, want 1", n)
	}
}

func TestClearThenUndoIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect("a")
	_ = h.o.Join(ctx, "a", "ABC")
	_ = h.o.Draw("a", "ABC", domain.DrawOp(`"op1"`))
	_ = h.o.Draw("a", "ABC", domain.DrawOp(`"op2"`))
	a.take()

	if err := h.o.Clear("a", "ABC"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	assertFrames(t, "a", a.take(), emptyHistory)

	if err := h.o.Undo("a", "ABC"); !errors.Is(err, core.ErrNothingToUndo) {
		t.Fatalf("Undo() after clear error = %v", err)
	}
	assertFrames(t, "a", a.take())
}

func TestRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"join without code", func() error { return h.o.Join(ctx, "a", "") }, core.ErrMissingRoomCode},
		{"draw to missing room", func() error { return h.o.Draw("a", "nope", domain.DrawOp(`1`)) }, core.ErrRoomNotFound},
		{"undo without room", func() error { return h.o.Undo("a", "") }, core.ErrMissingRoomCode},
		{"redo to missing room", func() error { return h.o.Redo("a", "nope") }, core.ErrRoomNotFound},
		{"clear to missing room", func() error { return h.o.Clear("a", "nope") }, core.ErrRoomNotFound},
		{"history of missing room", func() error { return h.o.LoadHistory("a", "nope") }, core.ErrRoomNotFound},
		{"join unknown session", func() error { return h.o.Join(ctx, "ghost", "ABC") }, ErrUnknownSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, ok := h.o.Rooms.Get("nope"); ok {
		t.Fatal("a rejected event created a room")
	}
}

func TestEmptyRoomFallsBackToBoundRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")
	b := h.connect("b")
	_ = h.o.Join(ctx, "a", "ABC")
	_ = h.o.Join(ctx, "b", "ABC")
	b.take()

	if err := h.o.Draw("a", "", domain.DrawOp(`"x"`)); err != nil {
		t.Fatalf("Draw() with bound room error = %v", err)
	}
	assertFrames(t, "b", b.take(), `draw:"x"`)
}

func TestLoadHistoryWithoutJoining(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")
	_ = h.o.Join(ctx, "a", "ABC")
	_ = h.o.Draw("a", "ABC", domain.DrawOp(`"op1"`))

	peek := h.connect("peek")
	if err := h.o.LoadHistory("peek", "ABC"); err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	assertFrames(t, "peek", peek.take(), `history:{"history":["op1"],"redoStack":[]}`)
	if _, _, ok := h.o.Registry.RoomOf("peek"); ok {
		t.Fatal("LoadHistory bound the connection to the room")
	}
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")
	other := h.connect("other")
	_ = h.o.Join(ctx, "other", "one")
	_ = h.o.Join(ctx, "a", "one")
	_ = h.o.Join(ctx, "a", "two")
	other.take()

	one, _ := h.o.Rooms.Get("one")
	if one.MemberCount() != 1 {
		t.Fatalf("room one members = %d, want 1", one.MemberCount())
	}
	_ = h.o.Draw("a", "", domain.DrawOp(`"x"`))
	assertFrames(t, "other", other.take())

	two, _ := h.o.Rooms.Get("two")
	if n := len(two.Snapshot().History); n != 1 {
		t.Fatalf("room two history = %d, want 1", n)
	}
}

func TestDisconnectKeepsRoomState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")
	_ = h.o.Join(ctx, "a", "ABC")
	_ = h.o.Draw("a", "ABC", domain.DrawOp(`"op1"`))

	h.o.OnDisconnect(ctx, "a")

	room, ok := h.o.Rooms.Get("ABC")
	if !ok {
		t.Fatal("room vanished on disconnect")
	}
	if room.MemberCount() != 0 {
		t.Fatalf("MemberCount() = %d, want 0", room.MemberCount())
	}
	if n := len(room.Snapshot().History); n != 1 {
		t.Fatalf("history len = %d, want 1", n)
	}
	if _, ok := h.o.Registry.GetSession("a"); ok {
		t.Fatal("session still registered after disconnect")
	}

	want := []presenceCall{{"join", "ABC", "a"}, {"leave", "ABC", "a"}}
	if len(h.presence.calls) != len(want) {
		t.Fatalf("presence calls = %v, want %v", h.presence.calls, want)
	}
	for i := range want {
		if h.presence.calls[i] != want[i] {
			t.Fatalf("presence call %d = %v, want %v", i, h.presence.calls[i], want[i])
		}
	}
}

func TestSlowMemberIsKicked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")
	slow := h.connect("slow")
	_ = h.o.Join(ctx, "a", "ABC")
	_ = h.o.Join(ctx, "slow", "ABC")
	slow.full = true

	_ = h.o.Draw("a", "ABC", domain.DrawOp(`"x"`))
	if !h.canceled["slow"] {
		t.Fatal("slow member was not canceled")
	}
	if h.canceled["a"] {
		t.Fatal("sender was canceled")
	}
}

// staleFirst hands out a retired room once, the way GetOrCreate can when
// a sweep runs between lookup and join.
type staleFirst struct {
	core.RoomManager
	stale  core.RoomService
	served bool
}

func (s *staleFirst) GetOrCreate(code domain.RoomCode) core.RoomService {
	if !s.served {
		s.served = true
		return s.stale
	}
	return s.RoomManager.GetOrCreate(code)
}

func TestJoinRetriesAfterEviction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect("a")

	stale := core.NewRoomService(domain.NewRoom("ABC", time.Now()), textCodec{}, nil)
	if !stale.Retire(0, time.Now().Add(time.Hour)) {
		t.Fatal("Retire() = false on an empty room")
	}
	h.o.Rooms = &staleFirst{RoomManager: h.o.Rooms, stale: stale}

	if err := h.o.Join(ctx, "a", "ABC"); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	assertFrames(t, "a", a.take(), "joined", emptyHistory)
	if stale.MemberCount() != 0 {
		t.Fatal("joined the retired room")
	}
	if _, ok := h.o.Rooms.Get("ABC"); !ok {
		t.Fatal("fresh room not created")
	}
}

// staleGet returns a retired room from the first Get, the way resolve can
// when a sweep runs between lookup and apply.
type staleGet struct {
	core.RoomManager
	stale  core.RoomService
	served bool
}

func (s *staleGet) Get(code domain.RoomCode) (core.RoomService, bool) {
	if !s.served {
		s.served = true
		return s.stale, true
	}
	return s.RoomManager.Get(code)
}

func retiredRoom(t *testing.T, code domain.RoomCode) core.RoomService {
	t.Helper()
	r := core.NewRoomService(domain.NewRoom(code, time.Now()), textCodec{}, nil)
	if !r.Retire(0, time.Now().Add(time.Hour)) {
		t.Fatal("Retire() = false on an empty room")
	}
	return r
}

func TestOpsRetryAfterEviction(t *testing.T) {
	cases := []struct {
		name string
		call func(o *Orchestrator) error
	}{
		{"draw", func(o *Orchestrator) error { return o.Draw("x", "ABC", domain.DrawOp(`"op2"`)) }},
		{"undo", func(o *Orchestrator) error { return o.Undo("x", "ABC") }},
		{"clear", func(o *Orchestrator) error { return o.Clear("x", "ABC") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.connect("x")
			live := h.o.Rooms.GetOrCreate("ABC")
			if _, err := live.Draw("x", domain.DrawOp(`"op1"`)); err != nil {
				t.Fatalf("seed draw: %v", err)
			}
			before := len(live.Snapshot().History)
			stale := retiredRoom(t, "ABC")
			h.o.Rooms = &staleGet{RoomManager: h.o.Rooms, stale: stale}

			if err := tc.call(h.o); err != nil {
				t.Fatalf("%s error = %v", tc.name, err)
			}
			if n := len(stale.Snapshot().History); n != 0 {
				t.Fatalf("retired room holds %d ops", n)
			}
			if len(live.Snapshot().History) == before {
				t.Fatalf("%s did not reach the live room", tc.name)
			}
		})
	}
}

func TestOpOnEvictedRoomIsRejected(t *testing.T) {
	h := newHarness(t)
	h.connect("x")
	stale := retiredRoom(t, "GONE")
	h.o.Rooms = &staleGet{RoomManager: h.o.Rooms, stale: stale}

	if err := h.o.Draw("x", "GONE", domain.DrawOp(`"op"`)); !errors.Is(err, core.ErrRoomNotFound) {
		t.Fatalf("Draw() error = %v, want %v", err, core.ErrRoomNotFound)
	}
	if n := len(stale.Snapshot().History); n != 0 {
		t.Fatalf("retired room holds %d ops", n)
	}
}

func TestHeartbeatTouchesPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")
	h.o.Heartbeat(ctx, "a")
	if len(h.presence.calls) != 0 {
		t.Fatalf("heartbeat outside a room touched presence: %v", h.presence.calls)
	}
	_ = h.o.Join(ctx, "a", "ABC")
	h.o.Heartbeat(ctx, "a")
	last := h.presence.calls[len(h.presence.calls)-1]
	if last != (presenceCall{"touch", "ABC", "a"}) {
		t.Fatalf("last presence call = %v", last)
	}
}

func TestStopRoomKeepsOccupiedRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect("a")
	_ = h.o.Join(ctx, "a", "ABC")

	if h.o.StopRoom("ABC") {
		t.Fatal("stopped a room with a member")
	}
	h.o.Leave(ctx, "a")
	if !h.o.StopRoom("ABC") {
		t.Fatal("empty room not stopped")
	}
	if _, ok := h.o.Rooms.Get("ABC"); ok {
		t.Fatal("room still listed")
	}
}
