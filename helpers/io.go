package helpers

import (
	"bufio"
	"io"

	"github.com/juju/errors"
)

// WriteAll loops over short writes, returns total bytes written.
func WriteAll(w io.Writer, b []byte) (int, error) {
	total := 0
	for len(b) > 0 {
		n, err := w.Write(b)
		total += n
		if err != nil {
			return total, err
		}
		if n == len(b) {
			return total, nil
		}
		b = b[n:]
	}
	return total, nil
}

// ScanLines calls fun for each non-empty line of r, without trailing "\r\n".
// Line longer than limit is skipped up to next newline and its length is passed
// to reject (may be nil), scanning continues.
// fun receives a copy it may retain.
func ScanLines(r io.Reader, limit int, fun func([]byte) error, reject func(length int)) error {
	// +2 for line terminator
	size := limit + 2
	if size < 16 {
		size = 16
	}
	br := bufio.NewReaderSize(r, size)
	skipped := 0 // bytes of oversized line consumed so far
	for {
		chunk, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			skipped += len(chunk)
			continue
		}
		if err != nil && err != io.EOF {
			return errors.Annotate(err, "scan")
		}
		line := trimEOL(chunk)
		switch {
		case skipped > 0:
			if reject != nil {
				reject(skipped + len(line))
			}
			skipped = 0
		case len(line) > limit:
			if reject != nil {
				reject(len(line))
			}
		case len(line) > 0:
			b := make([]byte, len(line))
			copy(b, line)
			if ferr := fun(b); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}
