package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectEdges(t *testing.T) {
	r := Rect{X: 1400, Y: 0, Width: 20, Height: 24}

	assert.Equal(t, 1400.0, r.Left())
	assert.Equal(t, 1420.0, r.Right())
	assert.Equal(t, 12.0, r.MidY())
	assert.Equal(t, Point{X: 1410, Y: 12}, r.Center())
}

func TestRectIsZero(t *testing.T) {
	assert.True(t, Rect{}.IsZero())
	assert.False(t, Rect{X: 1}.IsZero())
	assert.False(t, Rect{Width: 20}.IsZero())
}

func TestRectOverlaps(t *testing.T) {
	tests := []struct {
		name     string
		a        Rect
		b        Rect
		overlaps bool
	}{
		{
			name:     "disjoint",
			a:        Rect{X: 0, Width: 10},
			b:        Rect{X: 20, Width: 10},
			overlaps: false,
		},
		{
			name:     "touching edges do not overlap",
			a:        Rect{X: 0, Width: 10},
			b:        Rect{X: 10, Width: 10},
			overlaps: false,
		},
		{
			name:     "partial overlap",
			a:        Rect{X: 0, Width: 15},
			b:        Rect{X: 10, Width: 10},
			overlaps: true,
		},
		{
			name:     "contained",
			a:        Rect{X: 0, Width: 30},
			b:        Rect{X: 10, Width: 5},
			overlaps: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.overlaps, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.overlaps, tt.b.Overlaps(tt.a))
		})
	}
}
