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
	"io"
	"os"
	"sync/atomic"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcapgo"
)

type pcapngFileHandle struct {
	reader   *pcapgo.NgReader
	file     io.Closer
	pktsRead atomic.Uint64
}

func initializeOfflinePcapNg(r io.Reader, file io.Closer) (*pcapngFileHandle, error) {
	handle, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, err
	}
	// the first interface decides; pcapng files mixing link types are rare
	if err := checkLinkType(handle.LinkType()); err != nil {
		return nil, err
	}
	return &pcapngFileHandle{reader: handle, file: file}, nil
}

func (h *pcapngFileHandle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	data, ci, err = h.reader.ReadPacketData()
	if err == nil {
		h.pktsRead.Add(1)
	}
	return
}

func (h *pcapngFileHandle) ZeroCopyReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	data, ci, err = h.reader.ZeroCopyReadPacketData()
	if err == nil {
		h.pktsRead.Add(1)
	}
	return
}

func (h *pcapngFileHandle) Close() {
	if h.file != os.Stdin {
		h.file.Close()
	}
}

func (h *pcapngFileHandle) Stat() (uint, uint, error) {
	return uint(h.pktsRead.Load()), 0, nil
}

// vim: foldmethod=marker
