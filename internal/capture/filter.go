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

package capture

import (
	"fmt"

	"golang.org/x/net/bpf"
)

// filterPresets maps --filterpreset to the tcpdump expression it stands for. an empty
// expression means no filter at all.
var filterPresets = map[string]string{
	"ipv4": "ip",
	"ipv6": "ip6",
	"both": "",
	"all":  "",
	"icmp": "icmp or icmp6",
	"bgp":  "tcp port 179",
}

const (
	etherTypeOffset = 12
	ipv4ProtoOffset = 14 + 9
	ipv4FragOffset  = 14 + 6
	ipv6NextOffset  = 14 + 6
	ipv6PortsOffset = 14 + 40

	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86dd
)

// presetPrograms holds the classic BPF of every preset expression, for untagged Ethernet
// frames. these work on builds without libpcap.
var presetPrograms = map[string][]bpf.Instruction{
	"ip": {
		bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipFalse: 1},
		bpf.RetConstant{Val: snaplen},
		bpf.RetConstant{Val: 0},
	},
	"ip6": {
		bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipFalse: 1},
		bpf.RetConstant{Val: snaplen},
		bpf.RetConstant{Val: 0},
	},
	"icmp or icmp6": {
		bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipFalse: 2},
		bpf.LoadAbsolute{Off: ipv4ProtoOffset, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 1, SkipTrue: 3, SkipFalse: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipFalse: 3},
		bpf.LoadAbsolute{Off: ipv6NextOffset, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 58, SkipFalse: 1},
		bpf.RetConstant{Val: snaplen},
		bpf.RetConstant{Val: 0},
	},
	"tcp port 179": {
		bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipFalse: 6},
		// ipv6, tcp right after the fixed header
		bpf.LoadAbsolute{Off: ipv6NextOffset, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: 15},
		bpf.LoadAbsolute{Off: ipv6PortsOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 179, SkipTrue: 12},
		bpf.LoadAbsolute{Off: ipv6PortsOffset + 2, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 179, SkipTrue: 10, SkipFalse: 11},
		// ipv4, first fragment only
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipFalse: 10},
		bpf.LoadAbsolute{Off: ipv4ProtoOffset, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: 8},
		bpf.LoadAbsolute{Off: ipv4FragOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 6},
		bpf.LoadMemShift{Off: 14},
		bpf.LoadIndirect{Off: 14, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 179, SkipTrue: 2},
		bpf.LoadIndirect{Off: 16, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 179, SkipFalse: 1},
		bpf.RetConstant{Val: snaplen},
		bpf.RetConstant{Val: 0},
	},
}

// resolveFilter returns the expression to apply. a preset wins over a free expression.
func resolveFilter(preset, filter string) (string, error) {
	if preset == "" {
		return filter, nil
	}
	expr, ok := filterPresets[preset]
	if !ok {
		return "", fmt.Errorf("unknown --filterPreset %q", preset)
	}
	return expr, nil
}

// compileFilter turns an expression into raw BPF. an empty expression gives a nil program.
// preset expressions are assembled here, anything else goes to the tcpdump compiler.
func compileFilter(expr string) ([]bpf.RawInstruction, error) {
	if expr == "" {
		return nil, nil
	}
	if prog, ok := presetPrograms[expr]; ok {
		return bpf.Assemble(prog)
	}
	return tcpdumpToPcapgoBpf(expr)
}

// vim: foldmethod=marker
