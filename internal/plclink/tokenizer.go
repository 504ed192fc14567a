// Package plclink implements the PLC wire protocol from spec section 4.5:
// a byte-level tokenizer that distinguishes the two concurrent protocols
// sharing one UART (single-byte scan commands, and framed <TAG:BODY> text
// messages), plus the link-side state machine and serial transport.
package plclink

// TokenKind identifies what a Tokenizer produced from one Feed call.
type TokenKind int

const (
	// TokenNone means no complete token is ready yet; more bytes are
	// needed (e.g. a frame is still open).
	TokenNone TokenKind = iota
	// TokenByte is a single unframed command/status byte (0x14, 0x13,
	// 0x00, or any other stray byte outside a frame).
	TokenByte
	// TokenFrame is a complete <TAG:BODY> frame.
	TokenFrame
)

// Frame is a parsed <TAG:BODY> message.
type Frame struct {
	Tag  string
	Body string
}

// Token is one unit of output from the tokenizer.
type Token struct {
	Kind  TokenKind
	Byte  byte
	Frame Frame
}

// Tokenizer splits a byte stream into single protocol bytes and framed
// <TAG:BODY> text messages, per spec design note: "Do not attempt to treat
// everything as frames; the command bytes 0x13/0x14 are never wrapped."
//
// It is not safe for concurrent use; the link's single reader goroutine
// owns it.
type Tokenizer struct {
	inFrame bool
	buf     []byte
}

// NewTokenizer constructs an empty tokenizer, starting outside any frame.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Feed consumes one byte and returns the tokens it completes, in order.
// Most bytes complete zero or one token; a '>' closing a frame completes
// exactly one TokenFrame.
func (t *Tokenizer) Feed(b byte) []Token {
	if t.inFrame {
		if b == '>' {
			tag, body := splitFrame(string(t.buf))
			t.buf = t.buf[:0]
			t.inFrame = false
			return []Token{{Kind: TokenFrame, Frame: Frame{Tag: tag, Body: body}}}
		}
		t.buf = append(t.buf, b)
		return nil
	}

	if b == '<' {
		t.inFrame = true
		t.buf = t.buf[:0]
		return nil
	}

	return []Token{{Kind: TokenByte, Byte: b}}
}

// splitFrame splits "TAG:BODY" into its tag and body. A payload with no
// colon is returned entirely as the tag with an empty body.
func splitFrame(payload string) (tag, body string) {
	for i := 0; i < len(payload); i++ {
		if payload[i] == ':' {
			return payload[:i], payload[i+1:]
		}
	}
	return payload, ""
}
