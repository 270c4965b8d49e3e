package processing

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
)

// MaxLineBytes bounds one input line. Longer lines are reported to the
// caller as InvalidIdentifier and skipped without being held in memory.
const MaxLineBytes = 1 << 20

// ScanLines calls fn for every line of r with its 1-based number. lineErr is
// set when the line exceeded MaxLineBytes; text is then empty. Returning
// false from fn stops the scan. The returned error is only set when r
// cannot be read.
func ScanLines(r io.Reader, fn func(line int, text string, lineErr error) bool) error {
	br := bufio.NewReaderSize(r, MaxLineBytes)
	line := 0
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) == 0 && errors.Is(err, io.EOF) {
			return nil
		}

		var text string
		var lineErr error
		if errors.Is(err, bufio.ErrBufferFull) {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = br.ReadSlice('\n')
			}
			lineErr = failure.Newf(failure.InvalidIdentifier, "read line", "line longer than %d bytes", MaxLineBytes)
		} else {
			text = strings.TrimRight(string(chunk), "\r\n")
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read line %d: %w", line+1, err)
		}

		line++
		if !fn(line, text, lineErr) || err != nil {
			return nil
		}
	}
}
