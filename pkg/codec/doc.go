// Package codec provides the text codecs applied to console and spool streams.
//
// Hercules printers and consoles deliver either native (ASCII/UTF-8) bytes or
// EBCDIC text. A Codec is chosen once per deployment (ModeNative, ModeEBCDIC)
// or detected once per session (ModeAuto) from the first non-empty chunk. It
// is never re-attempted per chunk.
//
// # Usage
//
//	stream := codec.NewStream(codec.ModeAuto)
//	for chunk := range chunks {
//	    engine.Feed(stream.Decode(chunk))
//	}
//
// Decode never fails. Bytes that have no mapping in the selected code page are
// replaced with U+FFFD, so line framing is always preserved.
//
// # Thread Safety
//
// Native and EBCDIC codecs are stateless and safe for concurrent use. A Stream
// belongs to one session and must not be shared.
package codec
