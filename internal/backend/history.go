package backend

// DefaultHistorySize is the number of exchanges a memory-enabled backend
// retains.
const DefaultHistorySize = 10

// Exchange is one request sent to a model and the response it returned.
type Exchange struct {
	Request  string
	Response string
}

// History is a bounded FIFO of exchanges owned by a single backend instance.
type History struct {
	limit   int
	entries []Exchange
}

// NewHistory returns a history retaining at most limit exchanges. Limits
// outside 1..DefaultHistorySize fall back to DefaultHistorySize.
func NewHistory(limit int) *History {
	if limit <= 0 || limit > DefaultHistorySize {
		limit = DefaultHistorySize
	}
	return &History{limit: limit}
}

// Append records an exchange and drops the oldest ones beyond the limit.
func (h *History) Append(exchange Exchange) {
	if h == nil {
		return
	}
	h.entries = append(h.entries, exchange)
	if overflow := len(h.entries) - h.limit; overflow > 0 {
		h.entries = append(h.entries[:0:0], h.entries[overflow:]...)
	}
}

// Entries returns the retained exchanges, oldest first.
func (h *History) Entries() []Exchange {
	if h == nil {
		return nil
	}
	return append([]Exchange(nil), h.entries...)
}

func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Reset forgets every exchange.
func (h *History) Reset() {
	if h == nil {
		return
	}
	h.entries = nil
}
