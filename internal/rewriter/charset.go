package rewriter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// charset converts document bytes to and from UTF-8 text.
type charset struct {
	enc encoding.Encoding
}

// charsetOf looks up a charset label. Unknown labels and UTF-8 yield a
// pass-through charset.
func charsetOf(label string) charset {
	label = strings.TrimSpace(label)
	if label == "" {
		return charset{}
	}
	enc, err := htmlindex.Get(label)
	if err != nil || enc == encoding.Nop {
		return charset{}
	}
	if name, err := htmlindex.Name(enc); err == nil && name == "utf-8" {
		return charset{}
	}
	return charset{enc: enc}
}

func (c charset) decode(content []byte) (string, error) {
	if c.enc == nil {
		if !utf8.Valid(content) {
			return strings.ToValidUTF8(string(content), "�"), nil
		}
		return string(content), nil
	}
	out, err := c.enc.NewDecoder().Bytes(content)
	if err != nil {
		return "", fmt.Errorf("failed to decode content: %w", err)
	}
	return string(out), nil
}

func (c charset) encode(text string) ([]byte, error) {
	if c.enc == nil {
		return []byte(text), nil
	}
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}
	return out, nil
}
