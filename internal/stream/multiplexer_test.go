package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyforge-go/internal/config"
	"studyforge-go/internal/model"
	"studyforge-go/internal/progress"
)

type recorder struct {
	frames chan Frame
	err    error
}

func newRecorder() *recorder {
	return &recorder{frames: make(chan Frame, 128)}
}

func (r *recorder) Send(f Frame) error {
	if r.err != nil {
		return r.err
	}
	r.frames <- f
	return nil
}

func (r *recorder) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func (r *recorder) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case f := <-r.frames:
		if f.Type != FrameHeartbeat {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	bus      *progress.Bus
	registry *progress.Registry
	mux      *Multiplexer
}

func newFixture(heartbeat time.Duration) *fixture {
	bus := progress.NewBus()
	registry := progress.NewRegistry()
	mux := NewMultiplexer(bus, registry, config.StreamConfig{HeartbeatInterval: heartbeat, BufferSize: 16})
	return &fixture{bus: bus, registry: registry, mux: mux}
}

type served struct {
	rec    *recorder
	cancel context.CancelFunc
	done   chan error
}

func (f *fixture) open(t *testing.T, owner uint) *served {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := &served{rec: newRecorder(), cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- f.mux.Serve(ctx, owner, s.rec) }()
	require.Equal(t, FrameConnected, s.rec.next(t).Type)
	t.Cleanup(cancel)
	return s
}

func (s *served) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func TestServeForwardsOnlyOwnedDocumentsInOrder(t *testing.T) {
	f := newFixture(time.Hour)
	f.registry.Register("mine", 1)
	f.registry.Register("theirs", 2)
	s := f.open(t, 1)

	f.bus.Publish(progress.Progress("mine", model.StagePDFParse, 10, "parsing"))
	f.bus.Publish(progress.Progress("theirs", model.StagePDFParse, 10, "parsing"))
	f.bus.Publish(progress.Progress("mine", model.StageChunking, 55, "chunking"))
	f.bus.Publish(progress.Complete("mine"))

	first := s.rec.next(t)
	assert.Equal(t, FrameProgress, first.Type)
	assert.Equal(t, "mine", first.DocumentID)
	require.NotNil(t, first.Percent)
	assert.Equal(t, 10, *first.Percent)

	second := s.rec.next(t)
	assert.Equal(t, model.StageChunking, second.Stage)
	assert.Equal(t, 55, *second.Percent)

	last := s.rec.next(t)
	assert.Equal(t, FrameComplete, last.Type)
	assert.Equal(t, "mine", last.DocumentID)
	s.rec.assertQuiet(t)

	_, ok := f.registry.Lookup("mine")
	assert.False(t, ok, "terminal event should release ownership")
	_, ok = f.registry.Lookup("theirs")
	assert.True(t, ok)
}

func TestServeForwardsErrorFrame(t *testing.T) {
	f := newFixture(time.Hour)
	f.registry.Register("doc", 3)
	s := f.open(t, 3)

	f.bus.Publish(progress.Failed("doc", "no text"))
	fr := s.rec.next(t)
	assert.Equal(t, FrameError, fr.Type)
	assert.Equal(t, "no text", fr.Error)
	assert.Nil(t, fr.Percent)
}

func TestSecondStreamSupersedesFirst(t *testing.T) {
	f := newFixture(time.Hour)
	a := f.open(t, 1)
	f.registry.Register("doc", 1)

	b := f.open(t, 1)
	assert.ErrorIs(t, a.wait(t), ErrSuperseded)

	f.bus.Publish(progress.Progress("doc", model.StagePDFParse, 10, ""))
	f.bus.Publish(progress.Complete("doc"))

	assert.Equal(t, FrameProgress, b.rec.next(t).Type)
	assert.Equal(t, FrameComplete, b.rec.next(t).Type)
	a.rec.assertQuiet(t)
	assert.True(t, f.mux.Connected(1))
}

func TestSupersededStreamDoesNotSweepOwnership(t *testing.T) {
	f := newFixture(time.Hour)
	a := f.open(t, 1)
	f.registry.Register("doc", 1)
	f.open(t, 1)
	require.ErrorIs(t, a.wait(t), ErrSuperseded)

	_, ok := f.registry.Lookup("doc")
	assert.True(t, ok)
}

func TestDisconnectSweepsAllOwnerEntries(t *testing.T) {
	f := newFixture(time.Hour)
	s := f.open(t, 4)
	f.registry.Register("a", 4)
	f.registry.Register("b", 4)
	f.registry.Register("c", 5)

	s.cancel()
	require.NoError(t, s.wait(t))

	assert.False(t, f.mux.Connected(4))
	assert.Empty(t, f.registry.DocumentsFor(4))
	assert.Equal(t, []string{"c"}, f.registry.DocumentsFor(5))
	assert.Equal(t, 1, f.bus.Subscribers(), "only the cleanup subscription remains")
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(10 * time.Millisecond)
	s := f.open(t, 1)

	assert.Equal(t, FrameHeartbeat, s.rec.next(t).Type)
	assert.Equal(t, FrameHeartbeat, s.rec.next(t).Type)
}

func TestSinkFailureEndsServe(t *testing.T) {
	f := newFixture(time.Hour)
	rec := newRecorder()
	rec.err = errors.New("broken pipe")

	err := f.mux.Serve(context.Background(), 1, rec)
	assert.Error(t, err)
	assert.False(t, f.mux.Connected(1))
}

func TestEventsDroppedWithoutConnection(t *testing.T) {
	f := newFixture(time.Hour)
	f.registry.Register("doc", 9)

	assert.NotPanics(t, func() { f.bus.Publish(progress.Progress("doc", model.StagePDFParse, 10, "")) })
	s := f.open(t, 9)
	s.rec.assertQuiet(t)
}

func TestCloseEndsAllStreams(t *testing.T) {
	f := newFixture(time.Hour)
	a := f.open(t, 1)
	b := f.open(t, 2)

	f.mux.Close()
	assert.ErrorIs(t, a.wait(t), ErrClosed)
	assert.ErrorIs(t, b.wait(t), ErrClosed)

	err := f.mux.Serve(context.Background(), 3, newRecorder())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFrameFromEvent(t *testing.T) {
	fr := FrameFromEvent(progress.Progress("d", model.StagePerPage, 0, "page 1/10"))
	require.NotNil(t, fr.Percent)
	assert.Equal(t, 0, *fr.Percent)
	assert.Equal(t, "page 1/10", fr.Message)
	assert.Equal(t, FrameComplete, FrameFromEvent(progress.Complete("d")).Type)
}
