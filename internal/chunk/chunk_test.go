package chunk

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamHandlerBoundary(t *testing.T) {
	c := New(strings.NewReader("aabbccdde"), 2)
	var chunks []string
	for !c.Finished() {
		got, err := c.GetChunk()
		require.NoError(t, err)
		if got == nil {
			break
		}
		chunks = append(chunks, string(got))
	}
	require.Equal(t, []string{"aa", "bb", "cc", "dd", "e"}, chunks)
	require.True(t, c.Finished())
}

func TestZeroLengthInput(t *testing.T) {
	c := New(strings.NewReader(""), DefaultSize)
	got, err := c.GetChunk()
	require.NoError(t, err)
	require.Nil(t, got)
	require.True(t, c.Finished())
}

func TestTotality(t *testing.T) {
	input := bytes.Repeat([]byte("x"), 23)
	c := New(bytes.NewReader(input), 5)
	var out []byte
	count := 0
	for !c.Finished() {
		got, err := c.GetChunk()
		require.NoError(t, err)
		if got == nil {
			break
		}
		count++
		out = append(out, got...)
	}
	require.Equal(t, input, out)
	require.Equal(t, 5, count) // ceil(23/5)
}

type shortReader struct {
	data []byte
	pos  int
}

func (s *shortReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p[:1], s.data[s.pos:]) // always read at most 1 byte
	s.pos += n
	return n, nil
}

func TestToleratesShortReads(t *testing.T) {
	input := []byte("0123456789")
	c := New(&shortReader{data: input}, 4)
	var out []byte
	for !c.Finished() {
		got, err := c.GetChunk()
		require.NoError(t, err)
		if got == nil {
			break
		}
		out = append(out, got...)
	}
	require.Equal(t, input, out)
}
