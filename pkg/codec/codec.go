package codec

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Mode selects how a stream is decoded
type Mode string

const (
	ModeNative Mode = "native"
	ModeEBCDIC Mode = "ebcdic"
	ModeAuto   Mode = "auto"
)

// sampleSize bounds how many bytes the auto detector inspects
const sampleSize = 512

// ParseMode converts a configuration string into a Mode
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNative, "":
		return ModeNative, nil
	case ModeEBCDIC, "cp037":
		return ModeEBCDIC, nil
	case ModeAuto:
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown codec %q", s)
	}
}

// Codec converts raw stream bytes into the representation used for framing
// and into permissively decoded text
type Codec interface {
	Name() string
	// Decode returns the bytes the framing layer operates on.
	Decode(p []byte) []byte
	// Text returns valid UTF-8; invalid input becomes U+FFFD.
	Text(p []byte) string
}

// Native passes bytes through unchanged and decodes text as UTF-8
var Native Codec = nativeCodec{}

// EBCDIC decodes IBM code page 037
var EBCDIC Codec = ebcdicCodec{}

type nativeCodec struct{}

func (nativeCodec) Name() string { return string(ModeNative) }

func (nativeCodec) Decode(p []byte) []byte { return p }

func (nativeCodec) Text(p []byte) string {
	return decodeWith(unicode.UTF8, p)
}

type ebcdicCodec struct{}

// nel is U+0085, what the code page 037 new line (0x15) decodes to
var nel = []byte("\u0085")

func (ebcdicCodec) Name() string { return string(ModeEBCDIC) }

// Decode converts to UTF-8 with new lines mapped to '\n' so that line
// framing works the same as for native streams.
func (ebcdicCodec) Decode(p []byte) []byte {
	out, err := charmap.CodePage037.NewDecoder().Bytes(p)
	if err != nil {
		return []byte(strings.ToValidUTF8(string(p), "\uFFFD"))
	}
	return bytes.ReplaceAll(out, nel, []byte{'\n'})
}

func (c ebcdicCodec) Text(p []byte) string {
	return string(c.Decode(p))
}

func decodeWith(enc encoding.Encoding, p []byte) string {
	out, err := enc.NewDecoder().Bytes(p)
	if err != nil {
		return strings.ToValidUTF8(string(p), "\uFFFD")
	}
	return string(out)
}

// ForMode returns the fixed codec for a mode. ModeAuto has no fixed codec and
// yields Native; use a Stream to detect per session.
func ForMode(mode Mode) Codec {
	if mode == ModeEBCDIC {
		return EBCDIC
	}
	return Native
}

// Detect picks a codec from a sample of stream bytes. EBCDIC is chosen when
// more of the sample falls in EBCDIC letter, digit and space positions than
// in printable ASCII.
func Detect(sample []byte) Codec {
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	var ascii, ebcdic int
	for _, b := range sample {
		if isASCIIText(b) {
			ascii++
		}
		if isEBCDICText(b) {
			ebcdic++
		}
	}
	if ebcdic > ascii {
		return EBCDIC
	}
	return Native
}

func isASCIIText(b byte) bool {
	return (b >= 0x20 && b <= 0x7e) || b == '\n' || b == '\r' || b == '\t'
}

func isEBCDICText(b byte) bool {
	switch {
	case b == 0x40, b == 0x15, b == 0x25, b == 0x0d:
		// space, NL, LF, CR
		return true
	case b >= 0x81 && b <= 0x89, b >= 0x91 && b <= 0x99, b >= 0xa2 && b <= 0xa9:
		return true
	case b >= 0xc1 && b <= 0xc9, b >= 0xd1 && b <= 0xd9, b >= 0xe2 && b <= 0xe9:
		return true
	case b >= 0xf0 && b <= 0xf9:
		return true
	case b == 0x4b, b == 0x5b, b == 0x5c, b == 0x4d, b == 0x5d, b == 0x7b, b == 0x7c:
		// . $ * ( ) # @
		return true
	}
	return false
}

// Stream applies one codec to a single session. In ModeAuto the codec is
// resolved from the first non-empty chunk and then fixed for the session.
type Stream struct {
	mode  Mode
	codec Codec
}

// NewStream creates the per-session decoder for mode
func NewStream(mode Mode) *Stream {
	s := &Stream{mode: mode}
	if mode != ModeAuto {
		s.codec = ForMode(mode)
	}
	return s
}

func (s *Stream) resolve(p []byte) Codec {
	if s.codec == nil && len(p) > 0 {
		s.codec = Detect(p)
	}
	if s.codec == nil {
		return Native
	}
	return s.codec
}

// Decode converts p with the session codec
func (s *Stream) Decode(p []byte) []byte {
	return s.resolve(p).Decode(p)
}

// Text decodes p permissively with the session codec
func (s *Stream) Text(p []byte) string {
	return s.resolve(p).Text(p)
}

// Name reports the resolved codec, or the configured mode while unresolved
func (s *Stream) Name() string {
	if s.codec == nil {
		return string(s.mode)
	}
	return s.codec.Name()
}
