package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BinWidth
// Returns the number of bytes needed per token for a vocabulary of
// vocabSize entries: 2 when every id fits into 16 bits, otherwise 4.
func BinWidth(vocabSize int) int {
	if vocabSize <= 65536 {
		return 2
	}
	return 4
}

// ToBin
// Serializes tokens as little-endian unsigned integers of the given width.
func (tokens Tokens) ToBin(width int) ([]byte, error) {
	switch width {
	case 2:
		return tokens.toBinUint16()
	case 4:
		return tokens.toBinUint32()
	default:
		return nil, fmt.Errorf("unsupported token width %d", width)
	}
}

func (tokens Tokens) toBinUint16() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(tokens)*2))
	for idx := range tokens {
		tok := tokens[idx]
		if tok > 65535 {
			return nil, fmt.Errorf("integer overflow: tried to write "+
				"token ID %d as unsigned 16-bit", tok)
		}
		if err := binary.Write(buf, binary.LittleEndian,
			uint16(tok)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (tokens Tokens) toBinUint32() ([]byte, error) {
	out := make([]byte, len(tokens)*4)
	for idx, tok := range tokens {
		binary.LittleEndian.PutUint32(out[idx*4:], uint32(tok))
	}
	return out, nil
}

// TokensFromBin
// Reads little-endian tokens of the given width, ignoring a trailing
// partial token.
func TokensFromBin(bin []byte, width int) Tokens {
	if width != 2 && width != 4 {
		return nil
	}
	tokens := make(Tokens, 0, len(bin)/width)
	for pos := 0; pos+width <= len(bin); pos += width {
		if width == 2 {
			tokens = append(tokens,
				Token(binary.LittleEndian.Uint16(bin[pos:])))
		} else {
			tokens = append(tokens,
				Token(binary.LittleEndian.Uint32(bin[pos:])))
		}
	}
	return tokens
}
