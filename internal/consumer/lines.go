package consumer

import "strings"

// LineSplitter splits streamed text into newline-terminated records. The
// unterminated tail of a chunk is kept and completed by the next Feed.
type LineSplitter struct {
	buf string
}

// Feed appends chunk and returns every record it completed, without the
// trailing "\n" or "\r\n".
func (s *LineSplitter) Feed(chunk string) []string {
	if chunk == "" {
		return nil
	}
	s.buf += chunk

	var lines []string
	for {
		i := strings.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(s.buf[:i], "\r"))
		s.buf = s.buf[i+1:]
	}
	return lines
}

// Flush returns the pending tail, if any, and clears it.
func (s *LineSplitter) Flush() string {
	tail := strings.TrimSuffix(s.buf, "\r")
	s.buf = ""
	return tail
}
