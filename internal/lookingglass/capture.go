package lookingglass

import "time"

// CapturedExchange is a request/response pair observed by the capture middleware
type CapturedExchange struct {
	Method          string            `json:"method"`
	Path            string            `json:"path"`
	Status          int               `json:"status"`
	RequestArgs     map[string]string `json:"request_args,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	Truncated       bool              `json:"truncated,omitempty"`
	Duration        time.Duration     `json:"duration_ns"`
}

// EmitHTTPExchange records a captured exchange
func (b *EventBroadcaster) EmitHTTPExchange(exchange CapturedExchange) {
	b.Emit(EventTypeHTTPExchange, exchange.Method+" "+exchange.Path, map[string]interface{}{
		"exchange": exchange,
	})
}
