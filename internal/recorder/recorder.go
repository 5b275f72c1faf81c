// Package recorder implements the Recorder observer of §4.6/§6: a small
// synchronous event dispatcher that notifies typed listeners, in order, at
// each stage of one protocol exchange. Grounded on the teacher's pipeline
// middleware chain shape, reduced to the fixed six-event sequence the
// Protocol Session emits (pre_request, request_data*, request, pre_response,
// response_data*, response) instead of a generic enrichment pipeline.
package recorder

import (
	"net/http"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Recorder observes one protocol exchange. Every method is called
// synchronously and non-reentrantly, in the fixed order documented above;
// implementations that don't care about a stage embed NoOp.
type Recorder interface {
	PreRequest(req *types.Request)
	RequestData(req *types.Request, chunk []byte)
	Request(req *types.Request)
	PreResponse(req *types.Request, statusCode int, header http.Header)
	ResponseData(req *types.Request, chunk []byte)
	Response(req *types.Request, resp *types.Response, err error)
}

// NoOp is embeddable by Recorders that only care about a subset of events.
type NoOp struct{}

func (NoOp) PreRequest(*types.Request)                               {}
func (NoOp) RequestData(*types.Request, []byte)                      {}
func (NoOp) Request(*types.Request)                                  {}
func (NoOp) PreResponse(*types.Request, int, http.Header)            {}
func (NoOp) ResponseData(*types.Request, []byte)                     {}
func (NoOp) Response(*types.Request, *types.Response, error)         {}

// Dispatcher fans one exchange's events out to an ordered list of
// Recorders, each called in turn before the dispatcher moves to the next
// listener for that event (never interleaved across listeners).
type Dispatcher struct {
	listeners []Recorder
}

func NewDispatcher(listeners ...Recorder) *Dispatcher { return &Dispatcher{listeners: listeners} }

func (d *Dispatcher) PreRequest(req *types.Request) {
	for _, l := range d.listeners {
		l.PreRequest(req)
	}
}

func (d *Dispatcher) RequestData(req *types.Request, chunk []byte) {
	for _, l := range d.listeners {
		l.RequestData(req, chunk)
	}
}

func (d *Dispatcher) Request(req *types.Request) {
	for _, l := range d.listeners {
		l.Request(req)
	}
}

func (d *Dispatcher) PreResponse(req *types.Request, statusCode int, header http.Header) {
	for _, l := range d.listeners {
		l.PreResponse(req, statusCode, header)
	}
}

func (d *Dispatcher) ResponseData(req *types.Request, chunk []byte) {
	for _, l := range d.listeners {
		l.ResponseData(req, chunk)
	}
}

func (d *Dispatcher) Response(req *types.Request, resp *types.Response, err error) {
	for _, l := range d.listeners {
		l.Response(req, resp, err)
	}
}
