package history

import (
	"time"
)

// Record describes one proxied transaction. It is never mutated after Append.
// Nullable fields are pointers so they serialize as JSON null.
type Record struct {
	ID           string    `json:"id"`
	Seq          uint64    `json:"seq"`
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	Status       *int      `json:"status"`
	DurationMs   *int64    `json:"duration_ms"`
	RequestBody  *string   `json:"request_body"`
	ResponseBody *string   `json:"response_body"`
	Error        *string   `json:"error"`
}

// StatusCode returns the response status, or 0 when there was none.
func (r Record) StatusCode() int {
	if r.Status == nil {
		return 0
	}
	return *r.Status
}

// Ptr returns a pointer to v, for filling nullable Record fields.
func Ptr[T any](v T) *T {
	return &v
}

