// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package cfmt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSprintf(t *testing.T) {
	testCases := []struct {
		name   string
		format string
		args   []any
		expect string
	}{
		{name: "literal text", format: "HTTP/1.1 200 OK\r\n", expect: "HTTP/1.1 200 OK\r\n"},
		{name: "percent escape", format: "100%%", expect: "100%"},
		{name: "string", format: "<%s>", args: []any{"hi"}, expect: "<hi>"},
		{name: "byte slice string", format: "%s", args: []any{[]byte("raw")}, expect: "raw"},
		{name: "nil string", format: "%s", args: []any{nil}, expect: "(null)"},
		{name: "string precision truncates bytes", format: "%.3s", args: []any{"abcdef"}, expect: "abc"},
		{name: "string width", format: "[%5s]", args: []any{"ab"}, expect: "[   ab]"},
		{name: "left aligned string", format: "[%-5s]", args: []any{"ab"}, expect: "[ab   ]"},
		{name: "star width", format: "[%*s]", args: []any{4, "a"}, expect: "[   a]"},
		{name: "decimal", format: "%d", args: []any{42}, expect: "42"},
		{name: "int conversion", format: "%i", args: []any{-7}, expect: "-7"},
		{name: "long decimal", format: "%ld", args: []any{int64(1) << 40}, expect: "1099511627776"},
		{name: "plain int truncates to 32 bits", format: "%d", args: []any{int64(1) << 32}, expect: "0"},
		{name: "short", format: "%hd", args: []any{70000}, expect: "4464"},
		{name: "char size", format: "%hhd", args: []any{255}, expect: "-1"},
		{name: "unsigned of negative", format: "%u", args: []any{-1}, expect: "4294967295"},
		{name: "long unsigned of negative", format: "%lu", args: []any{-1}, expect: "18446744073709551615"},
		{name: "size_t", format: "%zu", args: []any{uint64(12)}, expect: "12"},
		{name: "hex", format: "%x", args: []any{255}, expect: "ff"},
		{name: "upper hex", format: "%X", args: []any{255}, expect: "FF"},
		{name: "negative hex is two's complement", format: "%x", args: []any{-1}, expect: "ffffffff"},
		{name: "alternate hex", format: "%#x", args: []any{255}, expect: "0xff"},
		{name: "alternate hex of zero", format: "%#x", args: []any{0}, expect: "0"},
		{name: "octal", format: "%o", args: []any{8}, expect: "10"},
		{name: "zero padded", format: "%05d", args: []any{42}, expect: "00042"},
		{name: "plus flag", format: "%+d", args: []any{5}, expect: "+5"},
		{name: "plus flag ignored for unsigned", format: "%+u", args: []any{5}, expect: "5"},
		{name: "precision digits", format: "%.3d", args: []any{7}, expect: "007"},
		{name: "float default precision", format: "%f", args: []any{1.5}, expect: "1.500000"},
		{name: "float precision", format: "%.2f", args: []any{3.14159}, expect: "3.14"},
		{name: "exponent", format: "%e", args: []any{1234.5}, expect: "1.234500e+03"},
		{name: "general uses six significant digits", format: "%g", args: []any{1234567.0}, expect: "1.23457e+06"},
		{name: "general small", format: "%g", args: []any{0.5}, expect: "0.5"},
		{name: "infinity", format: "%f", args: []any{math.Inf(1)}, expect: "inf"},
		{name: "char", format: "%c%c", args: []any{'o', byte('k')}, expect: "ok"},
		{name: "pointer", format: "%p", args: []any{uintptr(0x10)}, expect: "0x10"},
		{name: "missing argument", format: "a%sb", expect: "ab"},
		{name: "dangling percent", format: "50%", expect: "50%"},
		{name: "mixed", format: "%s %d %s\r\n", args: []any{"HTTP/1.1", 404, "Not Found"}, expect: "HTTP/1.1 404 Not Found\r\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, Sprintf(tc.format, tc.args...))
		})
	}
}
