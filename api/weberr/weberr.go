// Package weberr decorates errors with the HTTP response and the log fields
// the error middleware should use for them.
package weberr

import "errors"

type Opt func(error) error

func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

// WithResponse attaches the body and status to answer with. A nil body
// answers with the status alone.
func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &decorated{error: err, body: body, status: status}
	}
}

func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		return &decorated{error: err, fields: fields}
	}
}

// Response returns the outermost response attached to err.
func Response(err error) (body interface{}, status int, ok bool) {
	for d := (*decorated)(nil); errors.As(err, &d); err = d.error {
		if d.status != 0 {
			return d.body, d.status, true
		}
	}
	return nil, 0, false
}

// Fields merges the log fields attached anywhere in err's chain. Outer
// fields win over inner ones.
func Fields(err error) (map[string]interface{}, bool) {
	var merged map[string]interface{}
	for d := (*decorated)(nil); errors.As(err, &d); err = d.error {
		for k, v := range d.fields {
			if merged == nil {
				merged = make(map[string]interface{})
			}
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged, merged != nil
}

type decorated struct {
	error
	body   interface{}
	status int
	fields map[string]interface{}
}

func (e *decorated) Unwrap() error { return e.error }
