//go:build !linux
// +build !linux

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

// live capture relies on pcapgo's AF_PACKET socket, which only exists on Linux. everything here
// only satisfies genericPacketHandler so the rest of the package builds.

import (
	"errors"

	"github.com/gopacket/gopacket"
	"golang.org/x/net/bpf"
)

var errNoLiveCapture = errors.New("live capture is only supported on Linux, use --pcapFile")

type livePcapHandle struct{}

func initializeLivePcap(devName string, prog []bpf.RawInstruction, promiscuous bool) (*livePcapHandle, error) {
	return nil, errNoLiveCapture
}

func (h *livePcapHandle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	return nil, ci, errNoLiveCapture
}

func (h *livePcapHandle) ZeroCopyReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	return nil, ci, errNoLiveCapture
}

func (h *livePcapHandle) Close() {}

func (h *livePcapHandle) Stat() (uint, uint, error) {
	return 0, 0, errNoLiveCapture
}

// vim: foldmethod=marker
