package fusion

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterBankFirstReadingPassesThrough(t *testing.T) {
	b := NewFilterBank([]int{1}, DefaultKalmanParams())
	got, err := b.Update(1, -63)
	require.NoError(t, err)
	assert.Equal(t, -63.0, got)

	st, ok := b.State(1)
	require.True(t, ok)
	assert.Equal(t, DefaultKalmanInitialError, st.ErrorCovariance)
}

func TestFilterBankUpdateMatchesRecursion(t *testing.T) {
	p := KalmanParams{Q: 0.5, R: 2, InitialError: 5}
	b := NewFilterBank([]int{7}, p)
	_, _ = b.Update(7, -60)
	got, err := b.Update(7, -70)
	require.NoError(t, err)

	pMinus := 5.0 + 0.5
	k := pMinus / (pMinus + 2)
	assert.InDelta(t, -60+k*(-70+60), got, 1e-12)
	st, _ := b.State(7)
	assert.InDelta(t, (1-k)*pMinus, st.ErrorCovariance, 1e-12)
}

func TestFilterBankConvergesOnConstantInput(t *testing.T) {
	b := NewFilterBank([]int{1}, DefaultKalmanParams())
	_, _ = b.Update(1, -90)

	const target = -50.0
	prevErr := math.Inf(1)
	prevCov := math.Inf(1)
	for i := 0; i < 20; i++ {
		got, err := b.Update(1, target)
		require.NoError(t, err)
		e := math.Abs(got - target)
		assert.Less(t, e, prevErr, "step %d", i)
		prevErr = e

		st, _ := b.State(1)
		assert.Greater(t, st.ErrorCovariance, 0.0)
		assert.Less(t, st.ErrorCovariance, prevCov, "step %d", i)
		prevCov = st.ErrorCovariance
	}
	assert.Less(t, prevErr, 0.01)
}

func TestFilterBankCovarianceSettlesAboveZero(t *testing.T) {
	p := DefaultKalmanParams()
	b := NewFilterBank([]int{1}, p)
	for i := 0; i < 500; i++ {
		_, _ = b.Update(1, -60)
	}
	st, _ := b.State(1)
	// Steady state of p = (1-k)(p+q): p^2 + q p - q r = 0.
	steady := (-p.Q + math.Sqrt(p.Q*p.Q+4*p.Q*p.R)) / 2
	assert.InDelta(t, steady, st.ErrorCovariance, 1e-9)
	assert.Greater(t, st.ErrorCovariance, 0.0)
}

func TestFilterBankConstantFromFirstCall(t *testing.T) {
	b := NewFilterBank([]int{1}, DefaultKalmanParams())
	for i := 0; i < 10; i++ {
		got, err := b.Update(1, -72)
		require.NoError(t, err)
		assert.Equal(t, -72.0, got)
	}
}

func TestFilterBankUnknownID(t *testing.T) {
	b := NewFilterBank([]int{1, 2}, DefaultKalmanParams())
	_, err := b.Update(3, -50)
	assert.True(t, errors.Is(err, ErrUnknownEmitter))
	assert.Equal(t, 0, b.Len())
}

func TestFilterBankSmooth(t *testing.T) {
	b := NewFilterBank([]int{1, 2, 3}, DefaultKalmanParams())

	out, err := b.Smooth(map[int]float64{1: -60, 2: -70})
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{1: -60, 2: -70}, out)

	before, _ := b.State(2)
	out, err = b.Smooth(map[int]float64{1: -62})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	after, _ := b.State(2)
	assert.Equal(t, before, after, "absent id keeps its state")

	_, ok := b.State(3)
	assert.False(t, ok)

	t.Run("unknown id rejects whole batch", func(t *testing.T) {
		st, _ := b.State(1)
		_, err := b.Smooth(map[int]float64{1: -10, 9: -10})
		require.ErrorIs(t, err, ErrUnknownEmitter)
		again, _ := b.State(1)
		assert.Equal(t, st, again)
	})
}

func TestFilterBankIndependentInstances(t *testing.T) {
	a := NewFilterBank([]int{1}, DefaultKalmanParams())
	b := NewFilterBank([]int{1}, DefaultKalmanParams())
	_, _ = a.Update(1, -40)
	_, _ = a.Update(1, -80)
	got, _ := b.Update(1, -55)
	assert.Equal(t, -55.0, got)
}

func TestFilterBankReset(t *testing.T) {
	b := NewFilterBank([]int{1}, DefaultKalmanParams())
	_, _ = b.Update(1, -40)
	b.Reset()
	assert.Equal(t, 0, b.Len())
	got, err := b.Update(1, -80)
	require.NoError(t, err)
	assert.Equal(t, -80.0, got)
}
