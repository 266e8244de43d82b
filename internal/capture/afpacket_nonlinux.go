//go:build !linux || android || nocgo
// +build !linux android nocgo

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

// afpacket is a Linux-only feature, the functions here only return errors so the cross platform
// builds keep working

import (
	"errors"

	"github.com/gopacket/gopacket"
	"golang.org/x/net/bpf"
)

var errNoAfpacket = errors.New("netfeature has been compiled without afpacket support for this platform")

type afpacketHandle struct{}

func (h *afpacketHandle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	return data, ci, errNoAfpacket
}

func (h *afpacketHandle) ZeroCopyReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	return data, ci, errNoAfpacket
}

func (h *afpacketHandle) Close() {
}

func (h *afpacketHandle) Stat() (uint, uint, error) {
	return 0, 0, errNoAfpacket
}

func isTimeout(err error) bool {
	return false
}

func (config *captureConfig) initializeLiveAFpacket(devName string, prog []bpf.RawInstruction) (*afpacketHandle, error) {
	return nil, errNoAfpacket
}

// vim: foldmethod=marker
