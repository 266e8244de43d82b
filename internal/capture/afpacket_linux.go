//go:build linux && !android && !nocgo
// +build linux,!android,!nocgo

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
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/bpf"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/afpacket"
)

// the ring is polled with a timeout so a stopped capture notices on an idle link
const afpacketPollTimeout = 200 * time.Millisecond

type afpacketHandle struct {
	TPacket *afpacket.TPacket
}

func (h *afpacketHandle) ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	return h.TPacket.ReadPacketData()
}

func (h *afpacketHandle) ZeroCopyReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error) {
	return h.TPacket.ZeroCopyReadPacketData()
}

func (h *afpacketHandle) Close() {
	h.TPacket.Close()
}

func (h *afpacketHandle) Stat() (uint, uint, error) {
	mystats, statsv3, err := h.TPacket.SocketStats()
	if err != nil {
		return 0, 0, err
	}
	return uint(mystats.Packets() + statsv3.Packets()), uint(mystats.Drops() + statsv3.Drops()), nil
}

func isTimeout(err error) bool {
	return errors.Is(err, afpacket.ErrTimeout)
}

func afpacketComputeSize(targetSizeMb uint, snaplen uint, pageSize uint) (
	frameSize uint, blockSize uint, numBlocks uint, err error,
) {
	if snaplen < pageSize {
		frameSize = pageSize / (pageSize / snaplen)
	} else {
		frameSize = (snaplen/pageSize + 1) * pageSize
	}

	// 128 is the default from the gopacket library so just use that
	blockSize = frameSize * 128
	numBlocks = (targetSizeMb * 1024 * 1024) / blockSize

	if numBlocks == 0 {
		return 0, 0, 0, fmt.Errorf("interface buffersize of %dMB is too small, at least %d bytes are needed", targetSizeMb, blockSize)
	}

	return frameSize, blockSize, numBlocks, nil
}

func (config *captureConfig) setPromiscuous(devName string) error {
	if config.NoPromiscuous {
		return nil
	}
	log.Infof("Promiscuous mode: %v", true)
	return syscall.SetLsfPromisc(devName, true)
}

func (config *captureConfig) initializeLiveAFpacket(devName string, prog []bpf.RawInstruction) (*afpacketHandle, error) {
	frameSize, blockSize, numBlocks, err := afpacketComputeSize(
		config.AfpacketBuffersizeMb,
		snaplen,
		uint(os.Getpagesize()))
	if err != nil {
		return nil, err
	}
	tPacket, err := afpacket.NewTPacket(
		afpacket.OptInterface(devName),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(afpacketPollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3)
	if err != nil {
		return nil, fmt.Errorf("opening afpacket on %s: %w", devName, err)
	}
	handle := &afpacketHandle{TPacket: tPacket}
	if prog != nil {
		if err := tPacket.SetBPF(prog); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter: %w", err)
		}
	}
	if err := config.setPromiscuous(devName); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set promiscuous mode: %w", err)
	}
	log.Infof("Opened: %s", devName)
	return handle, nil
}

// vim: foldmethod=marker
