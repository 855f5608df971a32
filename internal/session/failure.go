package session

import (
	"errors"

	"github.com/Bamba9016/vente/internal/metrics"
	"github.com/Bamba9016/vente/internal/protocol"
)

// Failure is a recoverable error of one inbound frame. Message is what the
// client sees; Result labels the inbound metric.
type Failure struct {
	Result  string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Message + ": " + f.Err.Error()
	}
	return f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

func malformed(err error) *Failure {
	msg := "invalid message format"
	if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownType) {
		msg = err.Error()
	}
	return &Failure{Result: metrics.ResultMalformed, Message: msg, Err: err}
}

func rejected(message string, err error) *Failure {
	return &Failure{Result: metrics.ResultRejected, Message: message, Err: err}
}

func persistFailed(message string, err error) *Failure {
	return &Failure{Result: metrics.ResultPersistError, Message: message, Err: err}
}

func publishFailed(err error) *Failure {
	return &Failure{Result: metrics.ResultPublishError, Message: "saved but could not be broadcast", Err: err}
}
