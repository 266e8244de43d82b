/* {{{ Copyright (C) 2022 Ali Mosajjal
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>. }}} */

// Package decoder turns captured Ethernet frames into IPv4/IPv6 header features.
//
// Decoding is a pure function of its input: it never retains the frame, never reads past
// the captured length and holds no state between calls, so it is safe to call from any
// number of goroutines at once.
package decoder

import (
	"errors"
	"time"

	"github.com/mosajjal/netfeature/internal/feature"
)

const (
	ethernetHeaderLen = 14
	ipv4MinHeaderLen  = 20
	ipv6HeaderLen     = 40
)

// Reasons a frame did not produce a feature. They exist for counting drops only;
// a dropped frame never affects the next one.
var (
	ErrFrameTooShort      = errors.New("decoder: frame shorter than ethernet header")
	ErrUnsupportedVersion = errors.New("decoder: ip version is neither 4 nor 6")
	ErrHeaderTooShort     = errors.New("decoder: ip header shorter than its fixed size")
)

// Decode decodes one frame. capturedLen bounds how much of frame may be read; ok is
// false when the frame was dropped.
func Decode(frame []byte, capturedLen int, ts time.Time) (f feature.Feature, ok bool) {
	f, err := DecodeWithReason(frame, capturedLen, ts)
	return f, err == nil
}

// DecodeWithReason is Decode with the drop reason surfaced as one of the package errors.
func DecodeWithReason(frame []byte, capturedLen int, ts time.Time) (feature.Feature, error) {
	view, err := networkView(frame, capturedLen)
	if err != nil {
		return feature.Feature{}, err
	}
	frameLen := uint32(len(view) + ethernetHeaderLen)

	switch view[0] >> 4 {
	case 4:
		h, err := parseIPv4(view)
		if err != nil {
			return feature.Feature{}, err
		}
		return feature.NewIPv4(ts, frameLen, h), nil
	case 6:
		h, err := parseIPv6(view)
		if err != nil {
			return feature.Feature{}, err
		}
		return feature.NewIPv6(ts, frameLen, h), nil
	default:
		return feature.Feature{}, ErrUnsupportedVersion
	}
}

// networkView strips the ethernet header. Link layer fields are not looked at.
func networkView(frame []byte, capturedLen int) ([]byte, error) {
	n := capturedLen
	if n > len(frame) {
		n = len(frame)
	}
	if n < 0 {
		n = 0
	}
	if n < ethernetHeaderLen {
		return nil, ErrFrameTooShort
	}
	view := frame[ethernetHeaderLen:n:n]
	if len(view) == 0 {
		// a bare ethernet header carries no version nibble to dispatch on
		return nil, ErrUnsupportedVersion
	}
	return view, nil
}

// vim: foldmethod=marker
