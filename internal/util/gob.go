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


package util

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/mosajjal/netfeature/internal/feature"
)

type gobOutput struct{}

// FeatureBinary is the gob wire form of a feature. Kind travels as a plain number
type FeatureBinary struct {
	Timestamp   time.Time
	Server      string
	Kind        uint8
	FrameLength uint32
	IPv4        *feature.IPv4
	IPv6        *feature.IPv6
}

func (g gobOutput) Marshal(f feature.Feature) []byte {
	bin := FeatureBinary{
		Timestamp:   f.Timestamp,
		Server:      GeneralFlags.ServerName,
		Kind:        uint8(f.Kind),
		FrameLength: f.FrameLength,
		IPv4:        f.IPv4,
		IPv6:        f.IPv6,
	}
	// convert to gob
	var b bytes.Buffer
	enc := gob.NewEncoder(&b)
	if err := enc.Encode(bin); err != nil {
		return nil
	}
	return b.Bytes()
}

func (g gobOutput) Init() (string, error) {
	gob.Register(FeatureBinary{})
	return "", nil
}

// Feature turns a decoded gob record back into a feature
func (b FeatureBinary) Feature() feature.Feature {
	return feature.Feature{
		Kind:        feature.Kind(b.Kind),
		Timestamp:   b.Timestamp,
		FrameLength: b.FrameLength,
		IPv4:        b.IPv4,
		IPv6:        b.IPv6,
	}
}

// vim: foldmethod=marker
