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

// Package feature holds the decoded representation of a single captured frame.
// A Feature is either an IPv4 or an IPv6 header record, never both and never neither.
// Everything in here is plain data: no I/O and no references into capture buffers.
package feature

import (
	"fmt"
	"time"
)

// Kind tags which variant of a Feature is populated.
type Kind uint8

const (
	KindIPv4 Kind = 4
	KindIPv6 Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindIPv4:
		return "IPv4"
	case KindIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MarshalText lets json and template outputs print the family name instead of a number
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IPv4 is the fixed IPv4 header plus options, as it appeared on the wire.
type IPv4 struct {
	Version        uint8
	IHL            uint8
	TOS            uint8
	TotalLength    uint16
	Identification uint16
	Flags          uint8
	FragmentOffset uint16
	TTL            uint8
	Protocol       uint8
	HeaderChecksum uint16
	SrcIP          string
	DstIP          string
	Options        []byte `json:",omitempty"`
	ProtocolName   string
}

// IPv6 is the fixed IPv6 header after the extension header walk. NextHeader is the
// value the walk ended on, not necessarily byte 6 of the header.
type IPv6 struct {
	Version          uint8
	TrafficClass     uint8
	FlowLabel        uint32
	PayloadLength    uint16
	NextHeader       uint8
	HopLimit         uint8
	SrcIP            string
	DstIP            string
	ExtensionHeaders []string `json:",omitempty"`
	ProtocolName     string
	// ExtensionChain lists the extension header types recorded by the walk, in order.
	ExtensionChain []uint8 `json:"-"`
}

// StoppedAtHopByHop reports whether the extension header walk ended on a
// Hop-by-Hop Options header. The walk treats type 0 as terminal instead of
// skipping over it, so the upper layer protocol behind it is not known.
func (h IPv6) StoppedAtHopByHop() bool {
	return h.NextHeader == 0
}

// Feature is the tagged union handed from the decoder to the outputs. Build it with
// NewIPv4 or NewIPv6; exactly one of IPv4 and IPv6 is non-nil and it matches Kind.
type Feature struct {
	Kind        Kind
	Timestamp   time.Time
	FrameLength uint32
	IPv4        *IPv4 `json:",omitempty"`
	IPv6        *IPv6 `json:",omitempty"`
}

// NewIPv4 wraps an IPv4 header record into a Feature
func NewIPv4(ts time.Time, frameLength uint32, h IPv4) Feature {
	return Feature{Kind: KindIPv4, Timestamp: ts, FrameLength: frameLength, IPv4: &h}
}

// NewIPv6 wraps an IPv6 header record into a Feature
func NewIPv6(ts time.Time, frameLength uint32, h IPv6) Feature {
	return Feature{Kind: KindIPv6, Timestamp: ts, FrameLength: frameLength, IPv6: &h}
}

// Valid checks the tag against the populated variant. Features built by the
// constructors are always valid; this guards values that went through gob or a
// zero value passed around by mistake.
func (f Feature) Valid() bool {
	switch f.Kind {
	case KindIPv4:
		return f.IPv4 != nil && f.IPv6 == nil
	case KindIPv6:
		return f.IPv6 != nil && f.IPv4 == nil
	default:
		return false
	}
}

// SrcIP returns the source address of whichever variant is populated
func (f Feature) SrcIP() string {
	switch f.Kind {
	case KindIPv4:
		return f.IPv4.SrcIP
	case KindIPv6:
		return f.IPv6.SrcIP
	default:
		return ""
	}
}

// DstIP returns the destination address of whichever variant is populated
func (f Feature) DstIP() string {
	switch f.Kind {
	case KindIPv4:
		return f.IPv4.DstIP
	case KindIPv6:
		return f.IPv6.DstIP
	default:
		return ""
	}
}

// ProtocolNumber is the IPv4 protocol field or the final IPv6 next header.
func (f Feature) ProtocolNumber() uint8 {
	switch f.Kind {
	case KindIPv4:
		return f.IPv4.Protocol
	case KindIPv6:
		return f.IPv6.NextHeader
	default:
		return 0
	}
}

// ProtocolName is the mnemonic of ProtocolNumber, as resolved at decode time.
func (f Feature) ProtocolName() string {
	switch f.Kind {
	case KindIPv4:
		return f.IPv4.ProtocolName
	case KindIPv6:
		return f.IPv6.ProtocolName
	default:
		return ""
	}
}

// TTL is the IPv4 TTL or the IPv6 hop limit
func (f Feature) TTL() uint8 {
	switch f.Kind {
	case KindIPv4:
		return f.IPv4.TTL
	case KindIPv6:
		return f.IPv6.HopLimit
	default:
		return 0
	}
}

// vim: foldmethod=marker
