package util

import (
	"context"

	"github.com/mosajjal/netfeature/internal/feature"
)

// GenericOutput is an interface to speficy the behaviour of output modules
// and make it extendable
type GenericOutput interface {
	Initialize(context.Context) error     // try to initialize the output by checking flags and connections. must not block
	OutputChannel() chan feature.Feature // returns the output channel associated with the output
	Close()                              // close down the connections and exit cleanly
}

// OutputMarshaller is an interface to make it easier to build
// output formats regardless of the output.
type OutputMarshaller interface {
	Marshal(f feature.Feature) []byte // marshal the feature into the output format. nil means the format has no row for it
	Init() (string, error)            // initialize the output format, returning its header if there is one
}

// GlobalDispatchList acts as a fanout mechanism, sending the feature channel to all the outputs
var GlobalDispatchList = make([]GenericOutput, 0, 1024) // 1024 outputs is an absurdly high number
