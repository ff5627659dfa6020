package session

import "bytes"

var (
	oscStart = []byte("\x1b]7;")
	bel      = byte(0x07)
	st       = []byte("\x1b\\")
)

const maxPending = 4096

// oscScanner extracts OSC 7 working-directory announcements from a pane
// output stream. Sequences may straddle read chunks, so unfinished
// input is carried between feeds.
type oscScanner struct {
	pending []byte
}

// feed consumes one output chunk and returns the payloads of all OSC 7
// sequences completed by it.
func (s *oscScanner) feed(data []byte) []string {
	s.pending = append(s.pending, data...)

	var payloads []string
	for {
		start := bytes.Index(s.pending, oscStart)
		if start < 0 {
			// Keep only enough tail for a split start marker.
			if len(s.pending) > len(oscStart) {
				tail := s.pending[len(s.pending)-len(oscStart):]
				s.pending = append(s.pending[:0], tail...)
			}
			return payloads
		}

		body := s.pending[start+len(oscStart):]
		end, termLen := -1, 0
		if i := bytes.IndexByte(body, bel); i >= 0 {
			end, termLen = i, 1
		}
		if i := bytes.Index(body, st); i >= 0 && (end < 0 || i < end) {
			end, termLen = i, 2
		}
		if end < 0 {
			if len(body) > maxPending {
				// Unterminated garbage; drop it.
				s.pending = s.pending[:0]
			} else {
				s.pending = append(s.pending[:0], s.pending[start:]...)
			}
			return payloads
		}

		payloads = append(payloads, string(body[:end]))
		s.pending = append(s.pending[:0], body[end+termLen:]...)
	}
}
