package watch

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/AdrianIt2306/OpenMVS/pkg/codec"
)

// MaxLineLength bounds a line; longer input is cut into several lines
const MaxLineLength = 64 * 1024

// Kind is the type of a lifecycle event
type Kind int

const (
	Submitted Kind = iota + 1
	Ended
)

func (k Kind) String() string {
	switch k {
	case Submitted:
		return "submitted"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is a job lifecycle event announced on the console
type Event struct {
	Kind    Kind
	JobName string
	JobID   string // empty for Ended
}

func (e Event) String() string {
	if e.Kind == Submitted {
		return fmt.Sprintf("Submitted(%s, %s)", e.JobName, e.JobID)
	}
	return fmt.Sprintf("Ended(%s)", e.JobName)
}

// Line is one console line and its classification
type Line struct {
	Text  string
	Event *Event
}

var (
	submittedPattern = regexp.MustCompile(`\$HASP100\s+(\S+)\s+JOB\s+\((JOB\d+)\)\s+SUBMITTED`)
	endedPattern     = regexp.MustCompile(`\$HASP395\s+(\S+)\s+ENDED`)
)

// Classify returns the lifecycle event announced by text, or nil
func Classify(text string) *Event {
	if m := submittedPattern.FindStringSubmatch(text); m != nil {
		return &Event{Kind: Submitted, JobName: m[1], JobID: m[2]}
	}
	if m := endedPattern.FindStringSubmatch(text); m != nil {
		return &Event{Kind: Ended, JobName: m[1]}
	}
	return nil
}

// Detector splits one session's console stream into classified lines.
// It is owned by a single session.
type Detector struct {
	stream  *codec.Stream
	pending []byte
}

// NewDetector creates a detector decoding with stream
func NewDetector(stream *codec.Stream) *Detector {
	if stream == nil {
		stream = codec.NewStream(codec.ModeNative)
	}
	return &Detector{stream: stream}
}

// Codec reports the codec in use for the session
func (d *Detector) Codec() string {
	return d.stream.Name()
}

// Feed consumes the next chunk and returns the lines it completed
func (d *Detector) Feed(chunk []byte) []Line {
	if len(chunk) == 0 {
		return nil
	}
	d.pending = append(d.pending, d.stream.Decode(chunk)...)

	var lines []Line
	off := 0
	for {
		i := bytes.IndexByte(d.pending[off:], '\n')
		if i < 0 {
			break
		}
		lines = append(lines, newLine(d.pending[off:off+i]))
		off += i + 1
	}
	for len(d.pending)-off > MaxLineLength {
		lines = append(lines, newLine(d.pending[off:off+MaxLineLength]))
		off += MaxLineLength
	}
	d.pending = append(d.pending[:0], d.pending[off:]...)
	return lines
}

// Finish returns the unterminated trailing fragment as a final line
func (d *Detector) Finish() []Line {
	if len(d.pending) == 0 {
		return nil
	}
	line := newLine(bytes.TrimRight(d.pending, "\r\n"))
	d.pending = nil
	return []Line{line}
}

func newLine(raw []byte) Line {
	text := strings.TrimSuffix(codec.Native.Text(raw), "\r")
	return Line{Text: text, Event: Classify(text)}
}
