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
	"bufio"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

var pcapngMagic = [4]byte{0x0a, 0x0d, 0x0d, 0x0a}

type pcapFileHandle struct {
	reader   *pcapgo.Reader
	file     io.Closer
	pktsRead atomic.Uint64
}

// initializeOfflineCapture opens a capture file, or stdin for "-", and picks the pcap or pcapng
// reader from its first four bytes.
func initializeOfflineCapture(fileName string) (genericPacketHandler, error) {
	var f *os.File
	if fileName == "-" {
		f = os.Stdin
	} else {
		var err error
		f, err = os.Open(fileName)
		if err != nil {
			return nil, err
		}
	}

	bufF := bufio.NewReader(f)
	magic, err := bufF.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s: %w", fileName, err)
	}

	if [4]byte(magic) == pcapngMagic {
		log.Infof("using pcapng file: %s", fileName)
		h, err := initializeOfflinePcapNg(bufF, f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return h, nil
	}
	log.Infof("using pcap file: %s", fileName)
	h, err := initializeOfflinePcap(bufF, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

func checkLinkType(t layers.LinkType) error {
	if t != layers.LinkTypeEthernet {
		return fmt.Errorf("unsupported link type %s, only Ethernet captures can be decoded", t)
	}
	return nil
}

func initializeOfflinePcap(r io.Reader, file io.Closer) (*pcapFileHandle, error) {
	handle, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	if err := checkLinkType(handle.LinkType()); err != nil {
		return nil, err
	}
	return &pcapFileHandle{reader: handle, file: file}, nil
}

func (h *pcapFileHandle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	data, ci, err = h.reader.ReadPacketData()
	if err == nil {
		h.pktsRead.Add(1)
	}
	return
}

func (h *pcapFileHandle) ZeroCopyReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	data, ci, err = h.reader.ZeroCopyReadPacketData()
	if err == nil {
		h.pktsRead.Add(1)
	}
	return
}

func (h *pcapFileHandle) Close() {
	if h.file != os.Stdin {
		h.file.Close()
	}
}

func (h *pcapFileHandle) Stat() (uint, uint, error) {
	// `pcapgo.Reader` doesn't have a Stats() method, so we track packets
	// captured by ourselves. There should be no loss for a PCAP file since
	// it's controlled by I/O and not network
	return uint(h.pktsRead.Load()), 0, nil
}

// vim: foldmethod=marker
