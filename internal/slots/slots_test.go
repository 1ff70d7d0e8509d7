package slots

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/platform/platformtest"
	"github.com/trayfold/trayfold/internal/shared/geometry"
)

func newView(t *testing.T, alwaysHidden bool) (*View, *platformtest.FakeWindowSystem) {
	t.Helper()

	ws := platformtest.NewFakeWindowSystem()
	v := NewView(ws, logging.NewNop())
	require.NoError(t, v.Setup(context.Background(), 20, 10000, alwaysHidden))
	return v, ws
}

func TestSetupRegistersSlots(t *testing.T) {
	v, _ := newView(t, false)
	ctx := context.Background()

	anchor, err := v.Anchor(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleAnchor, anchor.Role)
	assert.Equal(t, anchorWidth, anchor.DeclaredWidth)

	delimiter, err := v.Delimiter(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleDelimiter, delimiter.Role)
	assert.Equal(t, 20, delimiter.DeclaredWidth)

	_, ok, err := v.Extra(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "extra delimiter should not exist when disabled")
}

func TestSetupRegistersExtraDelimiter(t *testing.T) {
	v, ws := newView(t, true)
	ctx := context.Background()

	extra, ok, err := v.Extra(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RoleExtraDelimiter, extra.Role)
	assert.Equal(t, 10000, extra.DeclaredWidth, "extra delimiter stays at sentinel width")
	assert.Equal(t, 10000, ws.Width(extra.Ref))
}

func TestSetDelimiterWidth(t *testing.T) {
	v, ws := newView(t, false)
	ctx := context.Background()

	require.NoError(t, v.SetDelimiterWidth(ctx, 10000))

	delimiter, err := v.Delimiter(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000, delimiter.DeclaredWidth)
	assert.Equal(t, 10000, ws.Width(delimiter.Ref))

	writes := ws.WidthWrites()
	require.Len(t, writes, 1)
	assert.Equal(t, 10000, writes[0].Width)
}

func TestBoundaryIsDelimiterLeftEdge(t *testing.T) {
	v, ws := newView(t, false)
	ctx := context.Background()

	delimiter, err := v.Delimiter(ctx)
	require.NoError(t, err)
	ws.SetFrame(delimiter.Ref, geometry.Rect{X: 1400, Y: 0, Width: 20, Height: 24})

	boundary, err := v.Boundary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1400.0, boundary, "boundary is the left edge, not the right")
}

func TestBoundaryUnresolved(t *testing.T) {
	v, _ := newView(t, false)

	_, err := v.Boundary(context.Background())
	assert.ErrorIs(t, err, ErrFrameUnresolved)
}

func TestExtraBoundary(t *testing.T) {
	v, ws := newView(t, true)
	ctx := context.Background()

	extra, ok, err := v.Extra(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ws.SetFrame(extra.Ref, geometry.Rect{X: 900, Y: 0, Width: 10000, Height: 24})

	edge, ok, err := v.ExtraBoundary(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 900.0, edge)
}

func TestExtraBoundaryDisabled(t *testing.T) {
	v, _ := newView(t, false)

	_, ok, err := v.ExtraBoundary(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
