//go:build openbsd || freebsd || dragonfly || netbsd

package util

import (
	"encoding/json"

	"github.com/mosajjal/netfeature/internal/feature"
)

type jsonOutput struct{}

func (j jsonOutput) Marshal(f feature.Feature) []byte {
	res, _ := json.Marshal(f)
	return res
}

func (j jsonOutput) Init() (string, error) {
	return "", nil
}

// MarshalJSON encodes arbitrary values with the same encoder the json output format uses
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
