package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/paulgrammer/smartapi-connect/connector"
)

// Call is one connector invocation seen during a run.
type Call struct {
	Request connector.Request `json:"request"`
	Result  connector.Result  `json:"result"`
	At      time.Time         `json:"at"`
}

// Recorder collects the connector calls of a single run.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

var _ connector.Observer = (*Recorder)(nil)

// ObserveCall implements connector.Observer.
func (r *Recorder) ObserveCall(_ context.Context, req connector.Request, res connector.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Request: req, Result: res, At: time.Now()})
}

// Calls returns a copy of the recorded calls in call order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Last returns the most recent call.
func (r *Recorder) Last() (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Call{}, false
	}
	return r.calls[len(r.calls)-1], true
}
