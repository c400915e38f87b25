package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2025, 1, 3, 3, 8, 6, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	c.Advance(301 * time.Second)
	assert.Equal(t, start.Add(301*time.Second), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Real{}.Now().Location())
}
