// Package protocol implements the chat wire format carried over GossipSub.
//
// A first message from a node announces its username:
//
//	<address>*@<username>*@<text>
//
// Later messages omit it, since every peer has learned the binding:
//
//	<address>*@<text>
//
// The separator is never escaped. Only the first two occurrences are
// structural, so the text may contain it freely. Addresses and usernames
// must not contain it.
package protocol

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Separator delimits the fields of a payload.
const Separator = "*@"

var (
	// ErrMalformed is returned for a payload without any separator.
	ErrMalformed = errors.New("malformed payload: no separator")
	// ErrUnknownShortForm is returned when a short-form payload arrives from an
	// address that never announced a username.
	ErrUnknownShortForm = errors.New("short-form payload from unknown address")
)

// Frame is a decoded payload.
type Frame struct {
	Address  string
	Username string // set only when First is true
	Text     string
	First    bool
}

// EncodeFirst builds the announcing form used for a node's first message.
func EncodeFirst(addr, username, text string) []byte {
	return []byte(addr + Separator + username + Separator + text)
}

// EncodeNext builds the short form used after the first message.
func EncodeNext(addr, text string) []byte {
	return []byte(addr + Separator + text)
}

// Text converts payload bytes to a string. Invalid UTF-8 sequences are
// replaced with U+FFFD and the second result reports that it happened.
func Text(payload []byte) (string, bool) {
	if utf8.Valid(payload) {
		return string(payload), false
	}
	return strings.ToValidUTF8(string(payload), string(utf8.RuneError)), true
}

// Decode splits a payload. known reports whether an address has already
// been bound to a username; it selects which of the two forms applies.
func Decode(payload []byte, known func(addr string) bool) (Frame, error) {
	s, _ := Text(payload)
	parts := strings.SplitN(s, Separator, 3)
	if len(parts) < 2 {
		return Frame{}, ErrMalformed
	}
	addr := parts[0]
	if known(addr) {
		// everything after the address is text, separators included
		return Frame{Address: addr, Text: strings.Join(parts[1:], Separator)}, nil
	}
	if len(parts) < 3 {
		return Frame{Address: addr}, ErrUnknownShortForm
	}
	return Frame{Address: addr, Username: parts[1], Text: parts[2], First: true}, nil
}
