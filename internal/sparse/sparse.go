// Package sparse copies data streams into seekable destinations while
// turning runs of zero bytes into holes.
package sparse

import (
	"fmt"
	"io"
	"os"
)

// BlockSize is the granularity at which zero runs are detected.
const BlockSize = 4096

// Copy copies src into dst. Blocks that consist entirely of zero bytes
// are not written; instead the write position is advanced past them,
// leaving a hole. The zero comparison only considers the bytes actually
// read, so a short final block is handled correctly.
//
// If the stream ends in zero blocks the destination position is advanced
// past them without writing. Seeking beyond the end of a file does not by
// itself extend its length; callers that need the full logical length
// must extend the file afterward (see Append).
func Copy(src io.Reader, dst io.WriteSeeker) error {
	buf := make([]byte, BlockSize)
	var pending int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if allZero(buf[:n]) {
				pending += int64(n)
			} else {
				if pending > 0 {
					if _, serr := dst.Seek(pending, io.SeekCurrent); serr != nil {
						return fmt.Errorf("seeking over zero run: %w", serr)
					}
					pending = 0
				}
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return fmt.Errorf("writing block: %w", werr)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading source: %w", err)
		}
	}
	if pending > 0 {
		if _, err := dst.Seek(pending, io.SeekCurrent); err != nil {
			return fmt.Errorf("seeking over trailing zero run: %w", err)
		}
	}
	return nil
}

// Append sparse-copies src onto the current position of f and then
// extends f so that its reported length covers any trailing hole.
func Append(src io.Reader, f *os.File) error {
	if err := Copy(src, f); err != nil {
		return err
	}
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("determining final length: %w", err)
	}
	if err := f.Truncate(pos); err != nil {
		return fmt.Errorf("extending file to %d bytes: %w", pos, err)
	}
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
