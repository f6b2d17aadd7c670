package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyforge-go/internal/mock"
	"studyforge-go/internal/model"
	"studyforge-go/pkg/tasks"
)

func newWorker(t *testing.T, h *harness) (*Worker, *mock.PayloadStore) {
	t.Helper()
	payloads := mock.NewPayloadStore()
	w, err := NewWorker(h.proc, h.repo, payloads, 2)
	require.NoError(t, err)
	t.Cleanup(w.Release)
	return w, payloads
}

func TestWorkerRunCompletesAndRemovesPayload(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.primary.Pages = paragraphs(2)
	w, payloads := newWorker(t, h)
	h.newDocument(t, "doc")
	require.NoError(t, payloads.Put(context.Background(), "uploads/doc", pdfBytes, "application/pdf"))

	err := w.Run(context.Background(), tasks.IngestTask{DocumentID: "doc", FileName: "notes.pdf", UserID: 7, PayloadKey: "uploads/doc"})
	require.NoError(t, err)

	assert.Equal(t, model.StageComplete, h.repo.Snapshot("doc").ExtractionStage)
	assert.False(t, payloads.Has("uploads/doc"))
}

func TestWorkerRunMissingPayloadFails(t *testing.T) {
	h := newHarness(t, nil, nil)
	w, _ := newWorker(t, h)
	h.newDocument(t, "lost")

	err := w.Run(context.Background(), tasks.IngestTask{DocumentID: "lost", PayloadKey: "uploads/lost"})
	require.Error(t, err)

	doc := h.repo.Snapshot("lost")
	assert.Equal(t, model.StageFailed, doc.ExtractionStage)
	assert.Contains(t, doc.Content, "load uploaded file")
}

func TestWorkerRunFailureStillRemovesPayload(t *testing.T) {
	h := newHarness(t, nil, nil)
	w, payloads := newWorker(t, h)
	h.newDocument(t, "bad")
	require.NoError(t, payloads.Put(context.Background(), "uploads/bad", []byte("not a pdf"), "application/pdf"))

	require.Error(t, w.Run(context.Background(), tasks.IngestTask{DocumentID: "bad", PayloadKey: "uploads/bad"}))
	assert.Equal(t, model.StageFailed, h.repo.Snapshot("bad").ExtractionStage)
	assert.Zero(t, payloads.Len())
}

func TestWorkerRunSkipsSettledDocuments(t *testing.T) {
	h := newHarness(t, nil, nil)
	w, payloads := newWorker(t, h)
	h.newDocument(t, "settled")
	require.NoError(t, h.repo.MarkFailed(context.Background(), "settled", "earlier"))
	require.NoError(t, payloads.Put(context.Background(), "uploads/settled", pdfBytes, "application/pdf"))

	err := w.Run(context.Background(), tasks.IngestTask{DocumentID: "settled", PayloadKey: "uploads/settled"})
	assert.ErrorIs(t, err, ErrNotPending)
	assert.True(t, payloads.Has("uploads/settled"))
}

func TestWorkerRunDeletedDocument(t *testing.T) {
	h := newHarness(t, nil, nil)
	w, _ := newWorker(t, h)
	assert.NoError(t, w.Run(context.Background(), tasks.IngestTask{DocumentID: "gone"}))
}

func TestWorkerDispatchRunsInBackground(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.primary.Pages = paragraphs(1)
	w, payloads := newWorker(t, h)

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		h.newDocument(t, id)
		require.NoError(t, payloads.Put(context.Background(), "uploads/"+id, pdfBytes, "application/pdf"))
		require.NoError(t, w.Dispatch(context.Background(), tasks.IngestTask{DocumentID: id, PayloadKey: "uploads/" + id}))
	}
	require.True(t, w.Wait(5*time.Second))

	for _, id := range ids {
		assert.Equal(t, model.StageComplete, h.repo.Snapshot(id).ExtractionStage, id)
	}
	assert.Zero(t, payloads.Len())
}

func TestWorkerDispatchAfterRelease(t *testing.T) {
	h := newHarness(t, nil, nil)
	w, _ := newWorker(t, h)
	w.Release()

	err := w.Submit(tasks.IngestTask{DocumentID: "late"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotPending))
	assert.True(t, w.Wait(time.Second))
}

func TestWorkerDuplicateTaskWhileFirstIsLoading(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.primary.Pages = paragraphs(2)
	w, payloads := newWorker(t, h)
	h.newDocument(t, "dup")
	require.NoError(t, payloads.Put(context.Background(), "uploads/dup", pdfBytes, "application/pdf"))

	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	payloads.GetHook = func(string) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	}

	task := tasks.IngestTask{DocumentID: "dup", UserID: 7, PayloadKey: "uploads/dup"}
	first := make(chan error, 1)
	go func() { first <- w.Run(context.Background(), task) }()
	<-entered

	assert.ErrorIs(t, w.Run(context.Background(), task), ErrJobInProgress)
	close(gate)
	require.NoError(t, <-first)

	doc := h.repo.Snapshot("dup")
	assert.Equal(t, model.StageComplete, doc.ExtractionStage)
	assert.True(t, doc.Vectorized)
}

func TestWorkerDuplicateTaskAfterCompletionKeepsResult(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.primary.Pages = paragraphs(2)
	w, payloads := newWorker(t, h)
	h.newDocument(t, "twice")
	require.NoError(t, payloads.Put(context.Background(), "uploads/twice", pdfBytes, "application/pdf"))

	task := tasks.IngestTask{DocumentID: "twice", UserID: 7, PayloadKey: "uploads/twice"}
	require.NoError(t, w.Run(context.Background(), task))
	vectors := h.index.Count("twice")
	require.Positive(t, vectors)

	assert.ErrorIs(t, w.Run(context.Background(), task), ErrNotPending)

	doc := h.repo.Snapshot("twice")
	assert.Equal(t, model.StageComplete, doc.ExtractionStage)
	assert.True(t, doc.Vectorized)
	assert.Equal(t, vectors, h.index.Count("twice"))
}

func TestFailDoesNotOverwriteTerminalDocument(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.primary.Pages = paragraphs(2)
	h.newDocument(t, "done")
	require.NoError(t, h.proc.Process(context.Background(), pdfBytes, "notes.pdf", 7, "done"))
	vectors := h.index.Count("done")
	before := len(h.events.all())

	h.proc.Fail(context.Background(), "done", errors.New("load uploaded file: object not found"))

	doc := h.repo.Snapshot("done")
	assert.Equal(t, model.StageComplete, doc.ExtractionStage)
	assert.True(t, doc.Vectorized)
	assert.NotContains(t, doc.Content, model.FailedContentPrefix)
	assert.Equal(t, vectors, h.index.Count("done"))
	assert.Len(t, h.events.all(), before)
}
