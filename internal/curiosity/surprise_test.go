package curiosity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSurpriseHistory_CurrentSurprise_EmptyIsZero(t *testing.T) {
	h := NewSurpriseHistory()
	assert.Equal(t, 0.0, h.CurrentSurprise())
}

func TestSurpriseHistory_CurrentSurprise_MeanOfLastWindow(t *testing.T) {
	h := NewSurpriseHistory()
	for i := 0; i < 20; i++ {
		h.Record(1.0)
	}
	for i := 0; i < 10; i++ {
		h.Record(0.0)
	}
	// Last 10 recorded values are all 0, so the mean-of-10 window is 0.
	assert.Equal(t, 0.0, h.CurrentSurprise())
}

func TestSurpriseHistory_MaxRecentSurprise_TracksPeak(t *testing.T) {
	h := NewSurpriseHistory()
	h.Record(0.3)
	h.Record(0.9)
	h.Record(0.1)
	assert.Equal(t, 0.9, h.MaxRecentSurprise())
}

func TestSurpriseHistory_EMA_SmoothsTowardRecentValue(t *testing.T) {
	h := NewSurpriseHistory()
	h.Record(1.0)
	for i := 0; i < 100; i++ {
		h.Record(0.0)
	}
	assert.Less(t, h.EMA(), 0.01)
}

func TestSurpriseHistory_RingWrapsAtCapacity(t *testing.T) {
	h := NewSurpriseHistory()
	for i := 0; i < surpriseRingCapacity+5; i++ {
		h.Record(0.5)
	}
	assert.Equal(t, 0.5, h.CurrentSurprise())
}
