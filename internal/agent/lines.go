// ABOUTME: Line reader for JSONL inputs that tolerates arbitrarily long records.
// ABOUTME: Oversized lines are skipped and counted instead of failing the read.

package agent

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxLineSize is the largest JSONL record decoded from logs and scripts.
const MaxLineSize = 10 * 1024 * 1024

// ReadLines calls fn with each line of r, without its line ending. The slice
// is only valid until fn returns. Lines longer than maxLen are read up to
// their newline, not passed to fn, and counted in oversized. An error from
// fn stops the read and is returned.
func ReadLines(r io.Reader, maxLen int, fn func(line []byte) error) (oversized int, err error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var buf []byte
	tooLong := false
	for {
		chunk, readErr := br.ReadSlice('\n')
		if !tooLong {
			// +2 leaves room for a CRLF ending.
			if len(buf)+len(chunk) > maxLen+2 {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}

		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		if readErr != nil && readErr != io.EOF {
			return oversized, readErr
		}

		line := bytes.TrimRight(buf, "\r\n")
		switch {
		case tooLong || len(line) > maxLen:
			oversized++
		case readErr == io.EOF && len(buf) == 0:
		default:
			if err := fn(line); err != nil {
				return oversized, err
			}
		}
		buf = buf[:0]
		tooLong = false

		if readErr == io.EOF {
			return oversized, nil
		}
	}
}
