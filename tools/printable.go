package tools

import (
	"strings"
	"unicode"
)

type printableType interface {
	~string | ~[]rune | ~[]byte
}

// IsPrintable keeps only the printable runes of v. Bytes are taken one by one as
// Latin-1 so binary frames never turn into replacement characters in the logs.
func IsPrintable[T printableType](v T) string {
	var b strings.Builder
	keep := func(r rune) {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}

	switch v := any(v).(type) {
	case string:
		for _, r := range v {
			keep(r)
		}
	case []rune:
		for _, r := range v {
			keep(r)
		}
	case []byte:
		for _, c := range v {
			keep(rune(c))
		}
	}
	return b.String()
}
