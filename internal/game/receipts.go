package game

// Receipt remembers the outcome of a committed client request so a retry
// with the same request id returns it instead of applying twice.
type Receipt struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Success   bool   `json:"success"`
	Code      Code   `json:"code,omitempty"`
	Version   int64  `json:"version"`
}

// DefaultMaxReceipts bounds the receipt ring kept on a session.
const DefaultMaxReceipts = 64

// Receipt returns the stored receipt for requestID.
func (s *Session) Receipt(requestID string) (Receipt, bool) {
	if requestID == "" {
		return Receipt{}, false
	}
	for i := len(s.Receipts) - 1; i >= 0; i-- {
		if s.Receipts[i].RequestID == requestID {
			return s.Receipts[i], true
		}
	}
	return Receipt{}, false
}

// Remember appends a receipt, dropping the oldest beyond max.
func (s *Session) Remember(r Receipt, max int) {
	if r.RequestID == "" {
		return
	}
	if max <= 0 {
		max = DefaultMaxReceipts
	}
	s.Receipts = append(s.Receipts, r)
	if n := len(s.Receipts); n > max {
		s.Receipts = append([]Receipt(nil), s.Receipts[n-max:]...)
	}
}
