package qr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out, err := Render("Alice|1990-01-01|Paris|2021-05-01|Sputnik|none|")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(out, "\n\n"))

	rows := strings.Split(strings.TrimSuffix(out, "\n\n"), "\n")
	// Version 1 is 21 modules; every version adds 4.
	size := len(rows)
	require.GreaterOrEqual(t, size, 21+8)
	require.Zero(t, (size-21-8)%4)

	for i, row := range rows {
		require.Len(t, row, 2*size, "row %d", i)
		for j := 0; j < len(row); j += 2 {
			cell := row[j : j+2]
			require.True(t, cell == dark || cell == light, "row %d col %d: %q", i, j, cell)
		}
	}

	// The quiet zone is light on every side.
	blank := strings.Repeat(light, size)
	for i := 0; i < 4; i++ {
		require.Equal(t, blank, rows[i])
		require.Equal(t, blank, rows[size-1-i])
	}
	for _, row := range rows {
		require.Equal(t, strings.Repeat(light, 4), row[:8])
		require.Equal(t, strings.Repeat(light, 4), row[len(row)-8:])
	}

	// Finder pattern corner.
	require.Equal(t, strings.Repeat(dark, 7), rows[4][8:8+14])
}

func TestRenderDeterministic(t *testing.T) {
	a, err := Render("same")
	require.NoError(t, err)
	b, err := Render("same")
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestRenderTooLong(t *testing.T) {
	_, err := Render(strings.Repeat("x", 4000))
	require.Error(t, err)
}
