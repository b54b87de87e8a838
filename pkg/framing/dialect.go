package framing

import (
	"fmt"
	"regexp"
)

// Default marker patterns for JES2 job logs printed through the Hercules
// spool. The start line names the job, the id appears on a later body line.
const (
	DefaultStartPattern = `\*{4}A[ \t]+START[ \t]+JOB[ \t]+\d+[ \t]+(?P<name>\S+)`
	DefaultIDPattern    = `\b(?P<id>JOB\d+)\b`
	DefaultEndPattern   = `\*{4}A[ \t]+END\b`

	// DefaultWindow is the longest marker plus slack kept while idle.
	DefaultWindow = 256
)

// Match locates a marker inside a buffer
type Match struct {
	Start int    // offset of the first marker byte
	End   int    // offset just past the marker
	Value string // captured job name or job id; empty for end markers
}

// Dialect is the marker strategy used by the Engine. Implementations only
// locate markers; buffering and record state stay in the Engine, so a new
// dialect never touches that logic.
//
// Every finder searches p[from:]. The bytes before from are stream text
// that preceded the search region; they are never part of a match but
// decide assertions such as \b at the region start, so a search behaves
// as it would over the unsplit stream.
type Dialect interface {
	// FindStart locates the first start marker and captures the job name.
	FindStart(p []byte, from int) (Match, bool)
	// FindID locates the first job id.
	FindID(p []byte, from int) (Match, bool)
	// FindEnd locates the first end marker.
	FindEnd(p []byte, from int) (Match, bool)
	// Window is the number of unterminated trailing bytes that must be
	// retained so that no marker is cut.
	Window() int
}

// DialectConfig holds the patterns of a PatternDialect
type DialectConfig struct {
	Start  string // must contain a (?P<name>...) group
	ID     string // must contain a (?P<id>...) group
	End    string
	Window int
}

// PatternDialect finds markers with regular expressions
type PatternDialect struct {
	start  pattern
	id     pattern
	end    pattern
	window int
}

// pattern pairs a marker expression with a variant that consumes one
// byte of lookbehind before the marker. RE2 assertions only look at the
// adjacent character, so one byte is enough context.
type pattern struct {
	re      *regexp.Regexp
	after   *regexp.Regexp
	group   int // capture group of re, 0 when nothing is captured
	afterAt int // the same group in after
}

func compilePattern(expr, name string) (pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return pattern{}, err
	}
	after, err := regexp.Compile(`(?s:.)(` + expr + `)`)
	if err != nil {
		return pattern{}, err
	}
	p := pattern{re: re, after: after}
	if name != "" {
		p.group, p.afterAt = re.SubexpIndex(name), after.SubexpIndex(name)
		if p.group < 0 {
			return pattern{}, fmt.Errorf("pattern %q has no (?P<%s>...) group", expr, name)
		}
	}
	return p, nil
}

func (p pattern) find(b []byte, from int) (Match, bool) {
	re, whole, group, off := p.re, 0, p.group, 0
	if from > 0 {
		re, whole, group, off = p.after, 1, p.afterAt, from-1
	}
	loc := re.FindSubmatchIndex(b[off:])
	if loc == nil {
		return Match{}, false
	}
	m := Match{Start: off + loc[2*whole], End: off + loc[2*whole+1]}
	if group > 0 && loc[2*group] >= 0 {
		m.Value = string(b[off+loc[2*group] : off+loc[2*group+1]])
	}
	return m, true
}

// NewPatternDialect compiles and validates config
func NewPatternDialect(config DialectConfig) (*PatternDialect, error) {
	start, err := compilePattern(config.Start, "name")
	if err != nil {
		return nil, fmt.Errorf("start pattern: %w", err)
	}
	id, err := compilePattern(config.ID, "id")
	if err != nil {
		return nil, fmt.Errorf("id pattern: %w", err)
	}
	end, err := compilePattern(config.End, "")
	if err != nil {
		return nil, fmt.Errorf("end pattern: %w", err)
	}

	d := &PatternDialect{
		start:  start,
		id:     id,
		end:    end,
		window: config.Window,
	}
	if d.window <= 0 {
		d.window = DefaultWindow
	}
	return d, nil
}

// DefaultDialect returns the JES2 dialect
func DefaultDialect() *PatternDialect {
	d, err := NewPatternDialect(DialectConfig{
		Start:  DefaultStartPattern,
		ID:     DefaultIDPattern,
		End:    DefaultEndPattern,
		Window: DefaultWindow,
	})
	if err != nil {
		panic(err)
	}
	return d
}

func (d *PatternDialect) FindStart(p []byte, from int) (Match, bool) {
	return d.start.find(p, from)
}

func (d *PatternDialect) FindID(p []byte, from int) (Match, bool) {
	return d.id.find(p, from)
}

func (d *PatternDialect) FindEnd(p []byte, from int) (Match, bool) {
	return d.end.find(p, from)
}

func (d *PatternDialect) Window() int {
	return d.window
}
