package metrics

// Reasons reported with RecordConnectionRejected.
const (
	RejectPoolFull    = "pool_full"
	RejectRateLimited = "rate_limited"
	RejectStartFailed = "start_failed"
)

// ServerMetrics receives line server events.
//
// Implementations must be safe for concurrent use: the accept loop and every
// connection worker report through the same instance.
type ServerMetrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionRejected(reason string)
	SetActiveConnections(count int)
	RecordMessage(bytes int)
	RecordBytesSent(bytes int)
	SetListenerOpen(open bool)
}

type noopServerMetrics struct{}

// NewNoopServerMetrics returns a ServerMetrics that discards everything.
func NewNoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

func (noopServerMetrics) RecordConnectionAccepted()       {}
func (noopServerMetrics) RecordConnectionClosed()         {}
func (noopServerMetrics) RecordConnectionRejected(string) {}
func (noopServerMetrics) SetActiveConnections(int)        {}
func (noopServerMetrics) RecordMessage(int)               {}
func (noopServerMetrics) RecordBytesSent(int)             {}
func (noopServerMetrics) SetListenerOpen(bool)            {}
