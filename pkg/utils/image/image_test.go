package image

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatternRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJPEG(Pattern(64, 48, 3), &buf, DefaultQuality))

	w, h, err := Size(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 64, w)
	require.Equal(t, 48, h)
}

func TestPatternShiftsWithSequence(t *testing.T) {
	a := Pattern(70, 2, 0)
	b := Pattern(70, 2, 1)
	require.NotEqual(t, a.At(0, 0), b.At(0, 0))
}

func TestSizeRejectsGarbage(t *testing.T) {
	_, _, err := Size([]byte("not a jpeg"))
	require.Error(t, err)
}
