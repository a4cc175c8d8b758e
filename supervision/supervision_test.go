package supervision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowAllowsUpToMaxRestarts(t *testing.T) {
	w := NewWindow(RestartPolicy{MaxRestarts: 3, Within: time.Second})
	now := time.Now()

	assert.True(t, w.Record(now))
	assert.True(t, w.Record(now.Add(10*time.Millisecond)))
	assert.True(t, w.Record(now.Add(20*time.Millisecond)))
	assert.False(t, w.Record(now.Add(30*time.Millisecond)), "the k+1th restart inside the window overflows")
}

func TestWindowSlides(t *testing.T) {
	w := NewWindow(RestartPolicy{MaxRestarts: 2, Within: 100 * time.Millisecond})
	now := time.Now()

	assert.True(t, w.Record(now))
	assert.True(t, w.Record(now.Add(10*time.Millisecond)))
	assert.False(t, w.Record(now.Add(20*time.Millisecond)))

	// both entries expired, the window is open again
	assert.True(t, w.Record(now.Add(200*time.Millisecond)))
}

func TestWindowZeroMaxAlwaysOverflows(t *testing.T) {
	w := NewWindow(RestartPolicy{MaxRestarts: 0, Within: time.Second})
	assert.False(t, w.Record(time.Now()))
}

func TestDefaultRestartPolicySetters(t *testing.T) {
	p := DefaultRestartPolicy().
		WithMaxRestarts(7).
		WithWithin(time.Minute).
		WithOnExhaustion(Stop)
	assert.Equal(t, 7, p.MaxRestarts)
	assert.Equal(t, time.Minute, p.Within)
	assert.Equal(t, Stop, p.OnExhaustion)
}

func TestStrategyNames(t *testing.T) {
	assert.Equal(t, "one_for_one", OneForOne.String())
	assert.Equal(t, "one_for_all", OneForAll.String())
	assert.Equal(t, "rest_for_one", RestForOne.String())
}
