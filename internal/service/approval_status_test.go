package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		completed, total, want int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{1, 7, 14},
		{5, 0, 0},
		{-1, 4, 0},
		{9, 4, 100},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, progressPercent(tc.completed, tc.total), "%d/%d", tc.completed, tc.total)
	}
}

func TestCompletedSteps(t *testing.T) {
	assert.Equal(t, 0, completedSteps(0))
	assert.Equal(t, 0, completedSteps(1))
	assert.Equal(t, 3, completedSteps(4))
}
