package expo

// Ticket and receipt statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error reasons reported in Details.Error.
const (
	ErrDeviceNotRegistered = "DeviceNotRegistered"
	ErrMessageTooBig       = "MessageTooBig"
	ErrMessageRateExceeded = "MessageRateExceeded"
	ErrMismatchSenderID    = "MismatchSenderId"
	ErrInvalidCredentials  = "InvalidCredentials"
)

// Message is one push notification addressed to a single device token.
type Message struct {
	To        string         `json:"to"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Sound     string         `json:"sound,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	ChannelID string         `json:"channelId,omitempty"`
}

// ErrorDetails carries the machine readable failure reason.
type ErrorDetails struct {
	Error string `json:"error,omitempty"`
}

// Ticket is the synchronous answer for one sent message. On success it holds
// the ID used to fetch the receipt later; on failure Status is "error" and ID
// is empty.
type Ticket struct {
	Status  string        `json:"status"`
	ID      string        `json:"id,omitempty"`
	Message string        `json:"message,omitempty"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// OK reports whether the provider accepted the message.
func (t Ticket) OK() bool { return t.Status == StatusOK }

// Reason returns the failure reason, or "" when none was given.
func (t Ticket) Reason() string {
	if t.Details == nil {
		return ""
	}
	return t.Details.Error
}

// Receipt is the asynchronous delivery outcome for a ticket.
type Receipt struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// OK reports whether the message was handed to the platform push service.
func (r Receipt) OK() bool { return r.Status == StatusOK }

// Reason returns the failure reason, or "" when none was given.
func (r Receipt) Reason() string {
	if r.Details == nil {
		return ""
	}
	return r.Details.Error
}

// PermanentlyInvalid reports whether the destination should never be used again.
func (r Receipt) PermanentlyInvalid() bool {
	return !r.OK() && r.Reason() == ErrDeviceNotRegistered
}
