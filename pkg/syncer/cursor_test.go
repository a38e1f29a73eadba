package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursors(t *testing.T) {
	tests := []struct {
		name  string
		start int
		step  int
		want  []int
	}{
		{"safety margin", 500, 50, []int{500, 450, 400, 350, 300, 250, 200, 150, 100, 50, 0}},
		{"clamped", 53, 50, []int{53, 3, 0}},
		{"unaligned", 120, 50, []int{120, 70, 20, 0}},
		{"single step", 50, 50, []int{50, 0}},
		{"zero", 0, 50, []int{0}},
		{"negative", -10, 50, []int{0}},
		{"bad step", 2, 0, []int{2, 1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cursors(tt.start, tt.step))
		})
	}
}

func TestIncrementalStart(t *testing.T) {
	assert.Equal(t, 500, IncrementalStart(30, DefaultSafetyMargin))
	assert.Equal(t, 500, IncrementalStart(-4, DefaultSafetyMargin))
	assert.Equal(t, 731, IncrementalStart(731, DefaultSafetyMargin))
	assert.Equal(t, 11, len(Cursors(IncrementalStart(50, DefaultSafetyMargin), 50)))
}
