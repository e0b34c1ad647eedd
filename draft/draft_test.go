package draft

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardHappyPath(t *testing.T) {
	store := NewStore(16, time.Minute)

	d := store.Begin("p1")
	require.Equal(t, StageAmount, d.Stage)

	d, err := store.SetAmount("p1", decimal.RequireFromString("125.50"))
	require.NoError(t, err)
	assert.Equal(t, StageCounterparty, d.Stage)

	d, err = store.SetCounterparty("p1", "@seller_99")
	require.NoError(t, err)
	assert.Equal(t, StageDescription, d.Stage)

	d, err = store.SetDescription("p1", "one vintage camera, working")
	require.NoError(t, err)
	assert.Equal(t, StageComplete, d.Stage)

	params, err := store.Complete("p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", params.InitiatorID)
	assert.Equal(t, "@seller_99", params.CounterpartyHandle)
	assert.Equal(t, "125.50", params.Amount.StringFixed(2))
	assert.Equal(t, "one vintage camera, working", params.Description)

	// Completion consumes the draft.
	_, err = store.Get("p1")
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestWizardStageOrder(t *testing.T) {
	store := NewStore(16, time.Minute)

	_, err := store.SetAmount("p1", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrNoDraft)

	store.Begin("p1")

	_, err = store.SetCounterparty("p1", "@seller_99")
	assert.ErrorIs(t, err, ErrWrongStage)

	_, err = store.SetDescription("p1", "skipping ahead two stages")
	assert.ErrorIs(t, err, ErrWrongStage)

	_, err = store.Complete("p1")
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestBeginReplacesDraft(t *testing.T) {
	store := NewStore(16, time.Minute)

	store.Begin("p1")
	_, err := store.SetAmount("p1", decimal.NewFromInt(10))
	require.NoError(t, err)

	d := store.Begin("p1")
	assert.Equal(t, StageAmount, d.Stage)
	assert.True(t, d.Amount.IsZero())
}

func TestClearAbandonsDraft(t *testing.T) {
	store := NewStore(16, time.Minute)

	store.Begin("p1")
	store.Clear("p1")

	_, err := store.Get("p1")
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestDraftsAreIsolatedPerParty(t *testing.T) {
	store := NewStore(16, time.Minute)

	store.Begin("p1")
	store.Begin("p2")

	_, err := store.SetAmount("p1", decimal.NewFromInt(10))
	require.NoError(t, err)

	d, err := store.Get("p2")
	require.NoError(t, err)
	assert.Equal(t, StageAmount, d.Stage)
}

func TestDraftExpires(t *testing.T) {
	store := NewStore(16, 20*time.Millisecond)

	store.Begin("p1")
	time.Sleep(60 * time.Millisecond)

	_, err := store.Get("p1")
	assert.ErrorIs(t, err, ErrNoDraft)
}
