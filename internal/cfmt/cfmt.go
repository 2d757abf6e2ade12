// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package cfmt formats values using C printf conversion specifiers,
// which is what native servers do for their printf style writes. The
// rules differ from Go's fmt verbs in length modifiers, unsigned
// conversions and %g defaults, so the two are not interchangeable.
package cfmt

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Sprintf formats according to a C format string. Conversions with a
// missing argument produce no output. %n is not supported and is skipped.
func Sprintf(format string, args ...any) string {
	var sb strings.Builder
	p := printer{args: args}

	for i := 0; i < len(format); {
		c := format[i]
		if c != '%' {
			j := strings.IndexByte(format[i:], '%')
			if j < 0 {
				j = len(format) - i
			}
			sb.WriteString(format[i : i+j])
			i += j
			continue
		}

		spec, n := p.parse(format[i+1:])
		i += 1 + n
		if spec.verb == 0 {
			// dangling '%' at the end of the format
			sb.WriteByte('%')
			continue
		}
		sb.WriteString(p.render(spec))
	}
	return sb.String()
}

// sign flags only apply to signed conversions in C
var unsignedFlags = strings.NewReplacer("+", "", " ", "")

type spec struct {
	flags     string
	width     int
	hasWidth  bool
	prec      int
	hasPrec   bool
	length    string
	verb      byte
	leftAlign bool
}

type printer struct {
	args []any
	next int
}

func (p *printer) arg() (any, bool) {
	if p.next >= len(p.args) {
		return nil, false
	}
	v := p.args[p.next]
	p.next++
	return v, true
}

func (p *printer) parse(s string) (spec, int) {
	var sp spec
	i := 0

	for i < len(s) && strings.IndexByte("-+ #0", s[i]) >= 0 {
		if s[i] == '-' {
			sp.leftAlign = true
		}
		if strings.IndexByte(sp.flags, s[i]) < 0 {
			sp.flags += string(s[i])
		}
		i++
	}

	if i < len(s) && s[i] == '*' {
		i++
		if v, ok := p.arg(); ok {
			w, _ := toInt64(v)
			sp.width, sp.hasWidth = int(w), true
			if sp.width < 0 {
				sp.width = -sp.width
				sp.leftAlign = true
				sp.flags += "-"
			}
		}
	} else {
		start := i
		for i < len(s) && isDigit(s[i]) {
			i++
		}
		if i > start {
			sp.width, _ = strconv.Atoi(s[start:i])
			sp.hasWidth = true
		}
	}

	if i < len(s) && s[i] == '.' {
		i++
		sp.hasPrec = true
		if i < len(s) && s[i] == '*' {
			i++
			if v, ok := p.arg(); ok {
				pr, _ := toInt64(v)
				sp.prec = int(pr)
				if sp.prec < 0 {
					sp.hasPrec = false
				}
			}
		} else {
			start := i
			for i < len(s) && isDigit(s[i]) {
				i++
			}
			sp.prec, _ = strconv.Atoi(s[start:i])
		}
	}

	start := i
	for i < len(s) && strings.IndexByte("hlLqjzt", s[i]) >= 0 {
		i++
	}
	sp.length = s[start:i]

	if i < len(s) {
		sp.verb = s[i]
		i++
	}
	return sp, i
}

func (p *printer) render(sp spec) string {
	switch sp.verb {
	case '%':
		return "%"
	case 'n':
		p.arg()
		return ""
	}

	v, ok := p.arg()
	if !ok {
		return ""
	}

	switch sp.verb {
	case 'd', 'i':
		n, _ := toInt64(v)
		return goFormat(sp, 'd', truncSigned(n, sp.length))
	case 'u':
		n, _ := toInt64(v)
		sp.flags = unsignedFlags.Replace(sp.flags)
		return goFormat(sp, 'd', truncUnsigned(n, sp.length))
	case 'o', 'x', 'X':
		n, _ := toInt64(v)
		u := truncUnsigned(n, sp.length)
		sp.flags = unsignedFlags.Replace(sp.flags)
		if u == 0 {
			sp.flags = strings.ReplaceAll(sp.flags, "#", "")
		}
		return goFormat(sp, rune(sp.verb), u)
	case 'f', 'F', 'e', 'E', 'g', 'G':
		f := toFloat64(v)
		verb := rune(sp.verb)
		if verb == 'F' {
			verb = 'f'
		}
		if !sp.hasPrec {
			sp.prec, sp.hasPrec = 6, true
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			s := strings.ToLower(strconv.FormatFloat(f, 'f', -1, 64))
			if s == "+inf" {
				s = "inf"
			}
			if sp.verb >= 'A' && sp.verb <= 'Z' {
				s = strings.ToUpper(s)
			}
			return pad(sp, s)
		}
		return goFormat(sp, verb, f)
	case 'c':
		n, _ := toInt64(v)
		return pad(sp, string([]byte{byte(n)}))
	case 's':
		s := toString(v)
		if sp.hasPrec && sp.prec < len(s) {
			s = s[:sp.prec]
		}
		return pad(sp, s)
	case 'p':
		n, ok := toInt64(v)
		if !ok {
			rv := reflect.ValueOf(v)
			if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.UnsafePointer {
				n = int64(rv.Pointer())
			}
		}
		return pad(sp, "0x"+strconv.FormatUint(uint64(n), 16))
	default:
		// unknown conversion: emit it untouched like most libcs
		return "%" + sp.length + string(sp.verb)
	}
}

func goFormat(sp spec, verb rune, v any) string {
	var b strings.Builder
	b.WriteByte('%')
	b.WriteString(sp.flags)
	if sp.hasWidth {
		b.WriteString(strconv.Itoa(sp.width))
	}
	if sp.hasPrec {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(sp.prec))
	}
	b.WriteRune(verb)
	return fmt.Sprintf(b.String(), v)
}

func pad(sp spec, s string) string {
	if !sp.hasWidth || len(s) >= sp.width {
		return s
	}
	fill := strings.Repeat(" ", sp.width-len(s))
	if sp.leftAlign {
		return s + fill
	}
	return fill + s
}

func truncSigned(n int64, length string) int64 {
	switch length {
	case "hh":
		return int64(int8(n))
	case "h":
		return int64(int16(n))
	case "", "t":
		return int64(int32(n))
	default:
		return n
	}
}

func truncUnsigned(n int64, length string) uint64 {
	switch length {
	case "hh":
		return uint64(uint8(n))
	case "h":
		return uint64(uint16(n))
	case "", "t":
		return uint64(uint32(n))
	default:
		return uint64(n)
	}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case uintptr:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float32:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	default:
		n, _ := toInt64(v)
		return float64(n)
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return "(null)"
	case string:
		return x
	case []byte:
		return string(x)
	case *string:
		if x == nil {
			return "(null)"
		}
		return *x
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	default:
		return fmt.Sprint(x)
	}
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
