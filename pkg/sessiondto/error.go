package sessiondto

// Rejection is a business-rule outcome shown to the acting player only.
type Rejection struct {
	Code      string       `json:"code"`
	Message   string       `json:"message,omitempty"`
	Retryable bool         `json:"retryable,omitempty"`
	Pending   *Negotiation `json:"pending,omitempty"`
}

func (e Rejection) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "session error"
}

// ErrorBody is the JSON body of non-2xx HTTP responses.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
