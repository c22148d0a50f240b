package ledger

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/crossyield/internal/model"
)

// fixedEntropy always yields the same bytes, which makes id generation
// fully deterministic for collision tests.
type fixedEntropy byte

func (f fixedEntropy) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(f)
	}
	return len(p), nil
}

var (
	testToken     = model.NamedTokenID("WETH")
	testRequester = model.NamedActorID("operator")
)

func TestCreateAndGet(t *testing.T) {
	l := New(rand.Reader)

	id, err := l.Create(testToken, testRequester, 1000)
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	record, ok := l.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, testToken, record.Token)
	assert.Equal(t, testRequester, record.Requester)
	assert.Equal(t, uint64(1000), record.CreatedAt)
	assert.Equal(t, model.StatusPending, record.Status)

	assert.True(t, l.HasPending(testToken))
	assert.Equal(t, 1, l.PendingCount())

	_, ok = l.Get(model.RequestID{})
	assert.False(t, ok)
}

func TestCreateIDCollision(t *testing.T) {
	l := New(fixedEntropy(0x42))

	// Identical inputs plus identical entropy reproduce the same id.
	_, err := l.Create(testToken, testRequester, 1000)
	require.NoError(t, err)
	_, err = l.Create(testToken, testRequester, 1000)
	assert.ErrorIs(t, err, ErrIDCollision)
}

func TestFinalizeTransitions(t *testing.T) {
	tests := []struct {
		name     string
		finalize func(*Ledger, model.RequestID) error
		want     model.RequestStatus
	}{
		{"completed", (*Ledger).MarkCompleted, model.StatusCompleted},
		{"failed", (*Ledger).MarkFailed, model.StatusFailed},
		{"cancelled", (*Ledger).MarkCancelled, model.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(rand.Reader)
			id, err := l.Create(testToken, testRequester, 1000)
			require.NoError(t, err)

			require.NoError(t, tt.finalize(l, id))
			record, _ := l.Get(id)
			assert.Equal(t, tt.want, record.Status)
			assert.False(t, l.HasPending(testToken))

			// Terminal states are one-shot; any further transition fails.
			assert.ErrorIs(t, l.MarkCompleted(id), ErrAlreadyFinalized)
			assert.ErrorIs(t, l.MarkFailed(id), ErrAlreadyFinalized)
			assert.ErrorIs(t, l.MarkCancelled(id), ErrAlreadyFinalized)
		})
	}
}

func TestFinalizeUnknown(t *testing.T) {
	l := New(rand.Reader)
	assert.ErrorIs(t, l.MarkCompleted(model.RequestID{0x01}), ErrUnknownRequest)
}

func TestConsumeFirstWins(t *testing.T) {
	l := New(rand.Reader)
	id, err := l.Create(testToken, testRequester, 1000)
	require.NoError(t, err)

	require.NoError(t, l.Consume(id))
	assert.ErrorIs(t, l.Consume(id), ErrAlreadyProcessed)

	// Finalizing after a claim works exactly once.
	require.NoError(t, l.MarkCompleted(id))
	assert.ErrorIs(t, l.Consume(id), ErrAlreadyProcessed)
}

func TestConsumeGuards(t *testing.T) {
	l := New(rand.Reader)

	assert.ErrorIs(t, l.Consume(model.RequestID{0x01}), ErrUnknownRequest)

	id, err := l.Create(testToken, testRequester, 1000)
	require.NoError(t, err)
	require.NoError(t, l.MarkFailed(id))
	assert.ErrorIs(t, l.Consume(id), ErrAlreadyProcessed)
}

func TestIsProcessed(t *testing.T) {
	l := New(rand.Reader)

	assert.False(t, l.IsProcessed(model.RequestID{0x01}))

	pending, err := l.Create(testToken, testRequester, 1000)
	require.NoError(t, err)
	assert.False(t, l.IsProcessed(pending))

	require.NoError(t, l.Consume(pending))
	assert.True(t, l.IsProcessed(pending), "consumed but not yet finalized counts as processed")

	done, err := l.Create(model.NamedTokenID("USDC"), testRequester, 1000)
	require.NoError(t, err)
	require.NoError(t, l.MarkCompleted(done))
	assert.True(t, l.IsProcessed(done))
}

func TestSweepTimeouts(t *testing.T) {
	l := New(rand.Reader)

	old, err := l.Create(model.NamedTokenID("WETH"), testRequester, 1000)
	require.NoError(t, err)
	fresh, err := l.Create(model.NamedTokenID("USDC"), testRequester, 1500)
	require.NoError(t, err)

	// now=1601, timeout=600: the old request is 601s stale, the fresh one 101s.
	expired := l.SweepTimeouts(1601, 600)
	require.Len(t, expired, 1)
	assert.Equal(t, old, expired[0])

	record, _ := l.Get(old)
	assert.Equal(t, model.StatusFailed, record.Status)
	assert.True(t, l.IsProcessed(old))

	record, _ = l.Get(fresh)
	assert.Equal(t, model.StatusPending, record.Status)
	assert.Equal(t, 1, l.PendingCount())
}

func TestSweepSkipsConsumed(t *testing.T) {
	l := New(rand.Reader)

	id, err := l.Create(testToken, testRequester, 1000)
	require.NoError(t, err)
	require.NoError(t, l.Consume(id))

	// A consumed request has a response mid-application; the sweep must
	// leave it alone no matter how old it is.
	expired := l.SweepTimeouts(100_000, 600)
	assert.Empty(t, expired)

	require.NoError(t, l.MarkCompleted(id))
	record, _ := l.Get(id)
	assert.Equal(t, model.StatusCompleted, record.Status)
}

func TestSweepAtExactTimeoutBoundary(t *testing.T) {
	l := New(rand.Reader)

	id, err := l.Create(testToken, testRequester, 1000)
	require.NoError(t, err)

	// Exactly timeout seconds old is not yet expired.
	assert.Empty(t, l.SweepTimeouts(1600, 600))
	record, _ := l.Get(id)
	assert.Equal(t, model.StatusPending, record.Status)

	assert.Len(t, l.SweepTimeouts(1601, 600), 1)
}
