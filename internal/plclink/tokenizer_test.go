package plclink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func feedAll(t *Tokenizer, s string) []Token {
	var out []Token
	for i := 0; i < len(s); i++ {
		out = append(out, t.Feed(s[i])...)
	}
	return out
}

func TestTokenizerPlainCommandBytes(t *testing.T) {
	tok := NewTokenizer()

	toks := feedAll(tok, string([]byte{0x14, 0x13, 0x00}))
	want := []byte{0x14, 0x13, 0x00}
	assert.Len(t, toks, 3)
	for i, tk := range toks {
		assert.Equal(t, TokenByte, tk.Kind)
		assert.Equal(t, want[i], tk.Byte)
	}
}

func TestTokenizerSingleFrame(t *testing.T) {
	tok := NewTokenizer()
	toks := feedAll(tok, "<SNS:1AANC000012345>")
	a := assert.New(t)
	a.Len(toks, 1)
	a.Equal(TokenFrame, toks[0].Kind)
	a.Equal("SNS", toks[0].Frame.Tag)
	a.Equal("1AANC000012345", toks[0].Frame.Body)
}

func TestTokenizerFrameWithoutColonIsAllTag(t *testing.T) {
	tok := NewTokenizer()
	toks := feedAll(tok, "<READY>")
	assert.Len(t, toks, 1)
	assert.Equal(t, "READY", toks[0].Frame.Tag)
	assert.Equal(t, "", toks[0].Frame.Body)
}

func TestTokenizerCommandByteInterleavedWithFrame(t *testing.T) {
	tok := NewTokenizer()

	toks := feedAll(tok, "\x14<SNS:1AANC000012345>\x13")
	a := assert.New(t)
	a.Len(toks, 3)
	a.Equal(TokenByte, toks[0].Kind)
	a.Equal(byte(0x14), toks[0].Byte)
	a.Equal(TokenFrame, toks[1].Kind)
	a.Equal("SNS", toks[1].Frame.Tag)
	a.Equal(TokenByte, toks[2].Kind)
	a.Equal(byte(0x13), toks[2].Byte)
}

func TestTokenizerBackToBackFrames(t *testing.T) {
	tok := NewTokenizer()
	toks := feedAll(tok, "<BTN:0><LCD:READY>")
	a := assert.New(t)
	a.Len(toks, 2)
	a.Equal("BTN", toks[0].Frame.Tag)
	a.Equal("0", toks[0].Frame.Body)
	a.Equal("LCD", toks[1].Frame.Tag)
	a.Equal("READY", toks[1].Frame.Body)
}

func TestTokenizerBytesInsideFrameAreNotEmittedAsTokens(t *testing.T) {
	tok := NewTokenizer()
	// A command byte value that happens to appear while inside a frame body
	// must not be emitted as a TokenByte; it belongs to the frame payload.
	toks := feedAll(tok, "<SNS:"+string([]byte{0x14})+"foo>")
	assert.Len(t, toks, 1)
	assert.Equal(t, TokenFrame, toks[0].Kind)
	assert.Equal(t, "SNS", toks[0].Frame.Tag)
}

func TestTokenizerFeedReturnsNilWhileFrameOpen(t *testing.T) {
	tok := NewTokenizer()
	assert.Nil(t, tok.Feed('<'))
	assert.Nil(t, tok.Feed('S'))
	assert.Nil(t, tok.Feed('N'))
	assert.Nil(t, tok.Feed('S'))
	toks := tok.Feed('>')
	assert.Len(t, toks, 1)
	assert.Equal(t, "SNS", toks[0].Frame.Tag)
}
