package wire

import (
	"bufio"
	"errors"
	"io"
)

// MaxLineSize bounds a single protocol line, terminator included.
const MaxLineSize = 64 * 1024

// ErrOversizeLine is returned when a peer sends a line longer than the
// reader's cap. The stream is left mid-line, so the caller must close it.
var ErrOversizeLine = errors.New("oversize protocol line")

// LineReader yields terminator-stripped protocol lines from a stream.
// A line ends at the first '\n'; one '\r' directly before it is dropped.
// A bare '\r' does not terminate a line.
type LineReader struct {
	br  *bufio.Reader
	max int
	acc []byte // partial line carried over an interrupted read
}

// NewLineReader wraps r with the default line cap.
func NewLineReader(r io.Reader) *LineReader {
	return NewLineReaderSize(r, MaxLineSize)
}

// NewLineReaderSize wraps r with an explicit line cap.
func NewLineReaderSize(r io.Reader, max int) *LineReader {
	return &LineReader{br: bufio.NewReader(r), max: max}
}

// ReadLine reads the next line. It blocks until a terminator arrives,
// the cap is exceeded or the stream errors out. A read cut short by a
// deadline keeps the bytes seen so far and resumes the same line on the
// next call; an unterminated tail before EOF is never delivered.
func (l *LineReader) ReadLine() (string, error) {
	for {
		frag, err := l.br.ReadSlice('\n')
		if len(l.acc)+len(frag) > l.max {
			l.acc = nil
			return "", ErrOversizeLine
		}
		l.acc = append(l.acc, frag...)
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return "", err
		}
	}
	line := l.acc[:len(l.acc)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	l.acc = nil
	return string(line), nil
}

// ReadMessage reads and decodes the next line.
func (l *LineReader) ReadMessage() (Message, error) {
	line, err := l.ReadLine()
	if err != nil {
		return Message{}, err
	}
	return DecodeMessage(line)
}

// Endpoint is a line-oriented view of a duplex stream. Reads come back
// as decoded messages, writes go out as single CRLF-terminated lines.
type Endpoint struct {
	*LineReader
	w io.Writer
}

// NewEndpoint wraps a duplex stream, usually a net.Conn.
func NewEndpoint(rw io.ReadWriter) *Endpoint {
	return NewEndpointSize(rw, MaxLineSize)
}

// NewEndpointSize wraps a duplex stream with an explicit line cap.
func NewEndpointSize(rw io.ReadWriter, max int) *Endpoint {
	return &Endpoint{LineReader: NewLineReaderSize(rw, max), w: rw}
}

// WriteLine writes one already-encoded line with its terminator. The
// line and terminator go out in a single Write call.
func (e *Endpoint) WriteLine(line string) error {
	buf := make([]byte, 0, len(line)+2)
	buf = append(buf, line...)
	buf = append(buf, '\r', '\n')
	_, err := e.w.Write(buf)
	return err
}

// WriteMessage encodes m and writes it as one line.
func (e *Endpoint) WriteMessage(m Message) error {
	return e.WriteLine(m.String())
}
