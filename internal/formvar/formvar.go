// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package formvar implements the native decoding routines for form
// variables and cookies, including their integer result codes.
package formvar

import (
	"bytes"
	"strings"
)

// Result codes shared by [Var] and [Cookie].
const (
	NotFound       = -1
	BufferTooSmall = -2

	// CookieTooSmall is what [Cookie] returns when the value does not fit.
	CookieTooSmall = -3
)

// URLDecode decodes src into dst. '+' is turned into a space only when
// form is true. Malformed escapes are copied through verbatim. It returns
// the decoded length or -1 if dst could not hold the whole result.
func URLDecode(src []byte, dst []byte, form bool) int {
	i, j := 0, 0
	for ; i < len(src) && j < len(dst); i, j = i+1, j+1 {
		switch {
		case src[i] == '%' && i < len(src)-2 && isHex(src[i+1]) && isHex(src[i+2]):
			dst[j] = unhex(src[i+1])<<4 | unhex(src[i+2])
			i += 2
		case form && src[i] == '+':
			dst[j] = ' '
		default:
			dst[j] = src[i]
		}
	}
	if i < len(src) {
		return -1
	}
	return j
}

// Var finds name in a "k1=v1&k2=v2" blob and decodes its value into dst.
// Names are matched case-insensitively. It returns the decoded length,
// [NotFound] or [BufferTooSmall].
func Var(data []byte, name string, dst []byte) int {
	if len(dst) == 0 {
		return BufferTooSmall
	}
	if len(data) == 0 || name == "" {
		return NotFound
	}

	n := len(name)
	for p := 0; p+n < len(data); p++ {
		if p != 0 && data[p-1] != '&' {
			continue
		}
		if data[p+n] != '=' || !bytes.EqualFold([]byte(name), data[p:p+n]) {
			continue
		}

		value := data[p+n+1:]
		if end := bytes.IndexByte(value, '&'); end >= 0 {
			value = value[:end]
		}
		m := URLDecode(value, dst, true)
		if m < 0 {
			return BufferTooSmall
		}
		return m
	}
	return NotFound
}

// Cookie extracts name from a Cookie header value into dst, stripping
// surrounding quotes. It returns the length, [NotFound], [BufferTooSmall]
// for an empty dst or [CookieTooSmall].
func Cookie(header, name string, dst []byte) int {
	if len(dst) == 0 {
		return BufferTooSmall
	}
	if name == "" || header == "" {
		return NotFound
	}

	lower := strings.ToLower(header)
	lname := strings.ToLower(name)
	for off := 0; off < len(header); {
		idx := strings.Index(lower[off:], lname)
		if idx < 0 {
			break
		}
		s := off + idx
		off = s + len(name)
		if off >= len(header) || header[off] != '=' {
			continue
		}

		s = off + 1
		p := strings.IndexByte(header[s:], ' ')
		if p < 0 {
			p = len(header)
		} else {
			p += s
		}
		if p > s && header[p-1] == ';' {
			p--
		}
		if p-s >= 2 && header[s] == '"' && header[p-1] == '"' {
			s++
			p--
		}
		if p-s > len(dst) {
			return CookieTooSmall
		}
		return copy(dst, header[s:p])
	}
	return NotFound
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
