package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/history"
)

// RunStoreContract exercises the behavior every history.Store must share.
// newStore must return an empty store for each call.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) history.Store) {
	t.Helper()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	record := func(id string, at time.Time) history.WorkflowRecord {
		return history.WorkflowRecord{
			ID:        id,
			Request:   json.RawMessage(`{"applicant_id":"` + id + `"}`),
			Status:    history.StatusOpen,
			CreatedAt: at,
			UpdatedAt: at,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(record("loan-a", base)))

		got, err := s.Get("loan-a")
		require.NoError(t, err)
		assert.Equal(t, "loan-a", got.ID)
		assert.Equal(t, history.StatusOpen, got.Status)
		assert.JSONEq(t, `{"applicant_id":"loan-a"}`, string(got.Request))
		assert.True(t, got.CreatedAt.Equal(base))
	})

	t.Run("duplicate create", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(record("loan-a", base)))
		assert.ErrorIs(t, s.Create(record("loan-a", base)), core.ErrAlreadyExists)
	})

	t.Run("unknown ids", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get("missing")
		assert.ErrorIs(t, err, core.ErrNotFound)

		assert.ErrorIs(t, s.Save(record("missing", base)), core.ErrNotFound)
		assert.ErrorIs(t, s.Append("missing", history.NewEvent("missing", "k", history.EventMarker, nil, base)), core.ErrNotFound)

		_, err = s.Events("missing")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("save replaces snapshot and status", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(record("loan-a", base)))

		rec := record("loan-a", base)
		rec.Status = history.StatusClosed
		rec.Snapshot = json.RawMessage(`{"phase":"COMPLETED"}`)
		rec.UpdatedAt = base.Add(time.Minute)
		require.NoError(t, s.Save(rec))

		got, err := s.Get("loan-a")
		require.NoError(t, err)
		assert.Equal(t, history.StatusClosed, got.Status)
		assert.JSONEq(t, `{"phase":"COMPLETED"}`, string(got.Snapshot))
		assert.True(t, got.UpdatedAt.Equal(base.Add(time.Minute)))
		assert.True(t, got.CreatedAt.Equal(base))
	})

	t.Run("append is idempotent on key", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(record("loan-a", base)))

		first := history.NewEvent("loan-a", "activity:fetch_bank_account", history.EventActivityCompleted, json.RawMessage(`{"v":1}`), base)
		again := history.NewEvent("loan-a", "activity:fetch_bank_account", history.EventActivityCompleted, json.RawMessage(`{"v":2}`), base)
		other := history.NewEvent("loan-a", "marker:created", history.EventMarker, nil, base)

		require.NoError(t, s.Append("loan-a", first))
		require.NoError(t, s.Append("loan-a", again))
		require.NoError(t, s.Append("loan-a", other))

		events, err := s.Events("loan-a")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, first.ID, events[0].ID)
		assert.JSONEq(t, `{"v":1}`, string(events[0].Payload))
		assert.Equal(t, "marker:created", events[1].Key)
		assert.Equal(t, history.EventMarker, events[1].Type)
	})

	t.Run("list is ordered by creation", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(record("loan-c", base.Add(2*time.Second))))
		require.NoError(t, s.Create(record("loan-b", base)))
		require.NoError(t, s.Create(record("loan-a", base)))

		recs, err := s.List()
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, []string{"loan-a", "loan-b", "loan-c"}, []string{recs[0].ID, recs[1].ID, recs[2].ID})
	})

	t.Run("returned records are copies", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(record("loan-a", base)))

		got, err := s.Get("loan-a")
		require.NoError(t, err)
		got.Request[0] = 'X'

		again, err := s.Get("loan-a")
		require.NoError(t, err)
		assert.Equal(t, byte('{'), again.Request[0])
	})
}
