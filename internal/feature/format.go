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

package feature

import (
	"encoding/hex"
	"strings"
	"time"
)

// TimestampLayout is the dataset timestamp format, always rendered in UTC with microseconds.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// FormatTimestamp renders t the way the dataset writer expects it
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// OptionsHex is the lowercase hex of the IPv4 options, empty when there are none
func (h IPv4) OptionsHex() string {
	return hex.EncodeToString(h.Options)
}

// ExtensionHeadersText joins the extension header descriptors with ';'
func (h IPv6) ExtensionHeadersText() string {
	return strings.Join(h.ExtensionHeaders, ";")
}

// vim: foldmethod=marker
