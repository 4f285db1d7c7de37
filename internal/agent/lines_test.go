// ABOUTME: Tests for the JSONL line reader.
// ABOUTME: Covers line endings, a missing final newline, oversized records and callback errors.

package agent

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectLines(t *testing.T, input string, maxLen int) ([]string, int) {
	t.Helper()
	var lines []string
	oversized, err := ReadLines(strings.NewReader(input), maxLen, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	require.NoError(t, err)
	return lines, oversized
}

func TestReadLines_Endings(t *testing.T) {
	lines, oversized := collectLines(t, "one\r\ntwo\n\nthree", 100)
	assert.Equal(t, []string{"one", "two", "", "three"}, lines)
	assert.Zero(t, oversized)
}

func TestReadLines_Empty(t *testing.T) {
	lines, oversized := collectLines(t, "", 100)
	assert.Empty(t, lines)
	assert.Zero(t, oversized)
}

func TestReadLines_SkipsOversized(t *testing.T) {
	input := "good\n" + strings.Repeat("x", 200*1024) + "\nalso good\n" + strings.Repeat("y", 11) + "\nlimit\r\n"

	lines, oversized := collectLines(t, input, 10)
	assert.Equal(t, []string{"good", "also good", "limit"}, lines)
	assert.Equal(t, 2, oversized)
}

func TestReadLines_LongLineWithinLimit(t *testing.T) {
	long := strings.Repeat("z", 300*1024)

	lines, oversized := collectLines(t, long+"\nshort", len(long))
	require.Len(t, lines, 2)
	assert.Equal(t, long, lines[0])
	assert.Equal(t, "short", lines[1])
	assert.Zero(t, oversized)
}

func TestReadLines_CallbackErrorStops(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := ReadLines(strings.NewReader("a\nb\nc\n"), 100, func([]byte) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestReadLines_ReaderError(t *testing.T) {
	boom := errors.New("disk gone")
	_, err := ReadLines(iotest.ErrReader(boom), 100, func([]byte) error { return nil })
	assert.ErrorIs(t, err, boom)
}
