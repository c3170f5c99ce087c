package qrdecode

import "errors"

var (
	ErrInvalidBase64    = errors.New("invalid base64 input")
	ErrUnsupportedImage = errors.New("unsupported or corrupt image")
	ErrNoSymbol         = errors.New("no QR symbol found")
	ErrMalformedPayload = errors.New("QR payload is not valid UTF-8")
	ErrDecoderFault     = errors.New("decoder fault")
)

// Result is the outcome of one pass through the decode pipeline. Exactly one
// of Payloads (non-empty) or Err is set.
type Result struct {
	Payloads []string
	Err      error
}

func ok(payloads []string) Result { return Result{Payloads: payloads} }

func fail(err error) Result { return Result{Err: err} }

// OK reports whether the pipeline produced at least one payload.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Payloads) > 0
}

// PayloadsOrEmpty collapses the result to a list that is never nil.
func (r Result) PayloadsOrEmpty() []string {
	if !r.OK() {
		return []string{}
	}
	return r.Payloads
}
