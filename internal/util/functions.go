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
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/golang-collections/collections/tst"
	log "github.com/sirupsen/logrus"

	"github.com/mosajjal/netfeature/internal/feature"
)

const (
	outputNone  = 0
	outputAll   = 1
	outputSkip  = 2
	outputAllow = 3
	outputBoth  = 4

	matchPrefix = 1
	matchCIDR   = 2
	matchExact  = 3
)

// addressList is one loaded skip or allow file. It is never modified after LoadAddressList returns.
type addressList struct {
	prefixTst *tst.TernarySearchTree
	cidrs     []netip.Prefix
	entryType map[string]uint8
}

// matches reports whether a textual address is covered by any entry of the list
func (l *addressList) matches(addr string) bool {
	if l == nil || addr == "" {
		return false
	}
	addrLower := strings.ToLower(addr)
	if l.entryType[addrLower] == matchExact {
		return true
	}
	if longestPrefix := l.prefixTst.GetLongestPrefix(addrLower); longestPrefix != nil {
		if l.entryType[longestPrefix.(string)] == matchPrefix {
			return true
		}
	}
	if len(l.cidrs) == 0 {
		return false
	}
	ip, err := netip.ParseAddr(addrLower)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	for _, p := range l.cidrs {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func (l *addressList) matchesFeature(f feature.Feature) bool {
	return l.matches(f.SrcIP()) || l.matches(f.DstIP())
}

// CheckIfWeSkip checks a feature against an output type and make a decision if
// the feature is meant to be sent to output or not. A feature matches a list when
// either its source or its destination address does.
func CheckIfWeSkip(outputType uint, f feature.Feature) bool {
	switch outputType {
	case outputNone:
		return true // always skip
	case outputAll:
		return false // never skip
	case outputSkip:
		return GeneralFlags.skipList.Load().matchesFeature(f)
	case outputAllow:
		return !GeneralFlags.allowList.Load().matchesFeature(f)
	// 4 means apply two logics, so we apply the two logics and && them together
	case outputBoth:
		if !CheckIfWeSkip(outputSkip, f) {
			return CheckIfWeSkip(outputAllow, f)
		}
		return true
	}
	return true
}

func openAddressSource(filename string) (io.ReadCloser, error) {
	if strings.HasPrefix(filename, "http://") || strings.HasPrefix(filename, "https://") {
		log.Info("address list is a URL, trying to fetch")
		client := http.Client{
			CheckRedirect: func(r *http.Request, via []*http.Request) error {
				r.URL.Opaque = r.URL.Path
				return nil
			},
		}
		if GeneralFlags.SkipTLSVerification {
			client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		}
		resp, err := client.Get(filename)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetching %s: unexpected status %s", filename, resp.Status)
		}
		log.Info("(re)fetching URL: ", filename)
		return resp.Body, nil
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	log.Info("(re)loading File: ", filename)
	return file, nil
}

// LoadAddressList loads an address list from a file or URL. Every line is `value,type` where type is
//  1. prefix: textual prefix of the address, kept in a TST
//  2. cidr: a network in CIDR notation
//  3. exact: the full address (default when the type is missing or unknown)
//
// empty lines and lines starting with # are ignored.
func LoadAddressList(filename string) (*addressList, error) {
	log.Info("Loading the address list from file/url")
	src, err := openAddressSource(filename)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return parseAddressList(src)
}

func parseAddressList(r io.Reader) (*addressList, error) {
	l := &addressList{
		prefixTst: tst.New(),
		entryType: make(map[string]uint8),
	}
	scanner := bufio.NewScanner(r)
	exact := 0
	for scanner.Scan() {
		lowerCaseLine := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if lowerCaseLine == "" || strings.HasPrefix(lowerCaseLine, "#") {
			continue
		}
		entry := strings.Split(lowerCaseLine, ",")
		if len(entry) != 2 {
			log.Warnf("%s is not a valid line, assuming exact", lowerCaseLine)
			entry = []string{lowerCaseLine, "exact"}
		}
		value := strings.TrimSpace(entry[0])
		switch entryType := strings.TrimSpace(entry[1]); entryType {
		case "prefix":
			l.entryType[value] = matchPrefix
			l.prefixTst.Insert(value, value)
		case "cidr":
			p, err := netip.ParsePrefix(value)
			if err != nil {
				log.Warnf("%s is not a valid cidr, ignoring: %s", value, err)
				continue
			}
			l.cidrs = append(l.cidrs, p.Masked())
		case "exact":
			l.entryType[value] = matchExact
			exact++
		default:
			log.Warnf("%s is not a valid line, assuming exact", lowerCaseLine)
			l.entryType[value] = matchExact
			exact++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	log.Infof("address list loaded with %d prefix, %d cidr and %d exact", l.prefixTst.Len(), len(l.cidrs), exact)
	return l, nil
}

// OutputFormatToMarshaller gets the outputFormat string and a template used in gotemplate
func OutputFormatToMarshaller(outputFormat string, t string) (OutputMarshaller, string, error) {
	switch outputFormat {
	case "json":
		return jsonOutput{}, "", nil
	case "csv", "csv_ipv4", "csv_ipv6":
		csvOut := csvOutput{Mode: csvModes[outputFormat]}
		header, err := csvOut.Init()
		return csvOut, header, err
	case "csv_no_header":
		return csvOutput{Mode: CSVBoth}, "", nil
	case "gotemplate":
		goOut := goTemplateOutput{RawTemplate: t}
		_, err := goOut.Init()
		return &goOut, "", err
	case "gob":
		gobOut := gobOutput{}
		_, err := gobOut.Init()
		return &gobOut, "", err
	}
	return nil, "", fmt.Errorf("%s is not a valid output format", outputFormat)
}

// vim: foldmethod=marker
