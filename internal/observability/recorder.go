package observability

import (
	"github.com/mirrorctl/mirrorctl/internal/recorder"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// MetricsRecorder feeds Metrics off the Protocol Session's exchange events,
// grounded on the Recorder interface's fixed six-stage sequence instead of
// threading counters through session/webclient call sites directly.
type MetricsRecorder struct {
	recorder.NoOp
	metrics *Metrics
}

func NewMetricsRecorder(metrics *Metrics) *MetricsRecorder {
	return &MetricsRecorder{metrics: metrics}
}

func (r *MetricsRecorder) PreRequest(req *types.Request) {
	r.metrics.RequestsTotal.Add(1)
}

func (r *MetricsRecorder) ResponseData(req *types.Request, chunk []byte) {
	r.metrics.BytesDownloaded.Add(int64(len(chunk)))
}

func (r *MetricsRecorder) Response(req *types.Request, resp *types.Response, err error) {
	if err != nil {
		r.metrics.RequestsFailed.Add(1)
		return
	}
	if resp == nil {
		return
	}
	r.metrics.ResponsesTotal.Add(1)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		r.metrics.Responses2xx.Add(1)
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		r.metrics.Responses3xx.Add(1)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		r.metrics.Responses4xx.Add(1)
	case resp.StatusCode >= 500:
		r.metrics.Responses5xx.Add(1)
	}
}

var _ recorder.Recorder = (*MetricsRecorder)(nil)
