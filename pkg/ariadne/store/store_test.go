package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfarrand/ariadne/pkg/ariadne/workflow"
)

// The suite runs against every Store implementation.

func newSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMemory(t *testing.T) Store {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func implementations() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": newSQLite,
		"memory": newMemory,
	}
}

func record(id string, status workflow.Status) *Record {
	return &Record{
		ID:      id,
		Request: "request for " + id,
		State: workflow.State{
			WorkflowID: id,
			Request:    "request for " + id,
			Status:     status,
		},
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			r := record("w1", workflow.StatusPlanning)
			r.Fingerprint = []float64{0.1, 0.2, 0.3}
			require.NoError(t, s.Create(ctx, r))

			got, err := s.Get(ctx, "w1")
			require.NoError(t, err)
			assert.Equal(t, "w1", got.ID)
			assert.Equal(t, "request for w1", got.Request)
			assert.Equal(t, workflow.StatusPlanning, got.Status)
			assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Fingerprint)
			assert.False(t, got.CreatedAt.IsZero())
			assert.False(t, got.UpdatedAt.IsZero())
			assert.Nil(t, got.CompletedAt)
		})
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, record("w1", workflow.StatusPlanning)))
			err := s.Create(ctx, record("w1", workflow.StatusPlanning))
			assert.ErrorIs(t, err, ErrDuplicateID)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			_, err := s.Get(context.Background(), "absent")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SaveDerivesStatusFromState(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			r := record("w1", workflow.StatusPlanning)
			require.NoError(t, s.Create(ctx, r))

			r.State.Status = workflow.StatusResearching
			require.NoError(t, s.Save(ctx, r))

			got, err := s.Get(ctx, "w1")
			require.NoError(t, err)
			assert.Equal(t, workflow.StatusResearching, got.Status)
			assert.Equal(t, workflow.StatusResearching, got.State.Status)
		})
	}
}

func TestStore_SaveStampsCompletedAtOnce(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			r := record("w1", workflow.StatusPlanning)
			require.NoError(t, s.Create(ctx, r))

			r.State.Status = workflow.StatusCompleted
			r.State.Final = &workflow.SynthesisResult{Response: "done", Citations: []string{}, Confidence: "high"}
			require.NoError(t, s.Save(ctx, r))

			first, err := s.Get(ctx, "w1")
			require.NoError(t, err)
			require.NotNil(t, first.CompletedAt)
			require.NotNil(t, first.FinalOutput)
			assert.Equal(t, "done", first.FinalOutput.Response)

			time.Sleep(5 * time.Millisecond)
			require.NoError(t, s.Save(ctx, first))

			second, err := s.Get(ctx, "w1")
			require.NoError(t, err)
			assert.Equal(t, first.CompletedAt.UnixNano(), second.CompletedAt.UnixNano())
		})
	}
}

func TestStore_SaveMissing(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			err := s.Save(context.Background(), record("ghost", workflow.StatusPlanning))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			older := record("w1", workflow.StatusPlanning)
			older.CreatedAt = time.Now().UTC().Add(-time.Hour)
			newer := record("w2", workflow.StatusPlanning)
			newer.CreatedAt = time.Now().UTC()

			require.NoError(t, s.Create(ctx, older))
			require.NoError(t, s.Create(ctx, newer))

			records, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "w2", records[0].ID)
			assert.Equal(t, "w1", records[1].ID)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, record("w1", workflow.StatusPlanning)))
			require.NoError(t, s.Delete(ctx, "w1"))

			_, err := s.Get(ctx, "w1")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "w1"), ErrNotFound)
		})
	}
}

func TestStore_FingerprintsFilterByStatus(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			done := record("done", workflow.StatusCompleted)
			done.Fingerprint = []float64{1, 0}
			pending := record("pending", workflow.StatusPlanning)
			pending.Fingerprint = []float64{0, 1}
			bare := record("bare", workflow.StatusCompleted)

			require.NoError(t, s.Create(ctx, done))
			require.NoError(t, s.Create(ctx, pending))
			require.NoError(t, s.Create(ctx, bare))

			fps, err := s.Fingerprints(ctx, workflow.StatusCompleted)
			require.NoError(t, err)
			require.Len(t, fps, 1)
			assert.Equal(t, "done", fps[0].ID)
			assert.Equal(t, []float64{1, 0}, fps[0].Vector)
		})
	}
}

func TestStore_QuestionAnalytics(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			require.NoError(t, s.RecordQuestion(ctx, "Where to?", "location"))
			require.NoError(t, s.RecordQuestion(ctx, "Where to?", "location"))
			require.NoError(t, s.RecordQuestion(ctx, "What budget?", "budget"))

			stats, err := s.Questions(ctx)
			require.NoError(t, err)
			require.Len(t, stats, 2)
			assert.Equal(t, "Where to?", stats[0].Question)
			assert.Equal(t, 2, stats[0].TimesAsked)
			assert.Equal(t, "location", stats[0].Category)
			assert.False(t, stats[0].LastAsked.IsZero())
		})
	}
}

func TestStore_Preferences(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			require.NoError(t, s.SetPreference(ctx, "tone", "concise"))
			require.NoError(t, s.SetPreference(ctx, "tone", "detailed"))
			require.NoError(t, s.SetPreference(ctx, "language", "en"))

			prefs, err := s.Preferences(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"tone": "detailed", "language": "en"}, prefs)
		})
	}
}

func TestStore_ClosedStoreRejectsOperations(t *testing.T) {
	for name, newStore := range implementations() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			require.NoError(t, s.Close())

			assert.ErrorIs(t, s.Create(ctx, record("w1", workflow.StatusPlanning)), ErrStoreClosed)
			_, err := s.Get(ctx, "w1")
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = s.List(ctx)
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	r := record("w1", workflow.StatusAwaitingClarification)
	r.State.ConversationLog = []workflow.Message{
		{Role: "user", Content: "Plan a trip."},
		{Role: "assistant", Content: "Where to?"},
	}
	require.NoError(t, s.Create(ctx, r))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingClarification, got.Status)
	assert.Len(t, got.State.ConversationLog, 2)
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	r := record("w1", workflow.StatusPlanning)
	require.NoError(t, s.Create(ctx, r))

	// Mutating what Get returned must not leak into the store.
	got, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	got.State.Request = "tampered"

	again, err := s.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "request for w1", again.State.Request)
}
