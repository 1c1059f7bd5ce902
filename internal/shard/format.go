package shard

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/magiconair/properties"
)

// decode parses a .properties document. Variable expansion is disabled so
// values containing ${...} round-trip verbatim.
func decode(data []byte) (map[string]string, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

// encode renders values as a .properties document with a header comment.
// Keys are written in sorted order so repeated saves of the same values
// produce identical files.
//
// Lines are written here rather than with properties.Write, which leaves
// '=', '#' and '!' in keys unescaped: "a=b" would read back as key "a".
func encode(values map[string]string, header string) ([]byte, error) {
	var buf bytes.Buffer
	if header != "" {
		fmt.Fprintf(&buf, "# %s\n", header)
	}
	for _, k := range sortedKeys(values) {
		fmt.Fprintf(&buf, "%s = %s\n", escapeKey(k), escapeValue(values[k]))
	}
	return buf.Bytes(), nil
}

// escapeKey escapes every character that would end a key or start a comment.
func escapeKey(k string) string {
	var sb strings.Builder
	for _, r := range k {
		switch r {
		case ' ', ':', '=', '#', '!':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			writeEscaped(&sb, r)
		}
	}
	return sb.String()
}

// escapeValue escapes control characters and a leading space, which the
// parser would otherwise drop.
func escapeValue(v string) string {
	var sb strings.Builder
	for i, r := range v {
		if i == 0 && r == ' ' {
			sb.WriteString(`\ `)
			continue
		}
		writeEscaped(&sb, r)
	}
	return sb.String()
}

func writeEscaped(sb *strings.Builder, r rune) {
	switch r {
	case '\\':
		sb.WriteString(`\\`)
	case '\t':
		sb.WriteString(`\t`)
	case '\n':
		sb.WriteString(`\n`)
	case '\r':
		sb.WriteString(`\r`)
	case '\f':
		sb.WriteString(`\f`)
	default:
		sb.WriteRune(r)
	}
}
