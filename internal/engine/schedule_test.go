package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultScheduleIsFixed(t *testing.T) {
	s := DefaultSchedule()

	assert.Equal(t, 3, s.MaxAttempts())
	assert.Equal(t, 2*time.Second, s.Delay(1))
	assert.Equal(t, 4*time.Second, s.Delay(2))
	assert.Equal(t, 6*time.Second, s.Delay(3))
	assert.Equal(t, 6*time.Second, s.Last())
}

func TestScheduleClampsOutOfRange(t *testing.T) {
	s := DefaultSchedule()

	assert.Equal(t, 2*time.Second, s.Delay(0))
	assert.Equal(t, 6*time.Second, s.Delay(9))
	assert.Equal(t, time.Duration(0), NewSchedule().Delay(1))
}

func TestNewScheduleCopiesInput(t *testing.T) {
	delays := []time.Duration{time.Second}
	s := NewSchedule(delays...)
	delays[0] = time.Hour

	assert.Equal(t, time.Second, s.Delay(1))
}
