package processor

import (
	"errors"
	"fmt"

	"imageq/internal/models"
)

// Kind classifies why a task could not be completed.
type Kind string

const (
	// KindDecode: the message body is not a valid envelope.
	KindDecode Kind = "decode"
	// KindInfrastructure: a bucket or the store could not be used.
	KindInfrastructure Kind = "infrastructure"
	// KindData: the source object is missing or is not an image.
	KindData Kind = "data"
	// KindTransform: the transform failed for any other reason.
	KindTransform Kind = "transform"
)

// Kinds lists every fault kind.
var Kinds = []Kind{KindDecode, KindInfrastructure, KindData, KindTransform}

// Fault is a failed task. Envelope is the zero value for decode faults.
type Fault struct {
	Kind     Kind
	Step     string
	Envelope models.Envelope
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault in %s: %v", f.Kind, f.Step, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// KindOf returns the kind of a fault, or KindTransform for errors that did
// not come from Process.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransform
}

func newFault(kind Kind, step string, env models.Envelope, err error) *Fault {
	return &Fault{Kind: kind, Step: step, Envelope: env, Err: err}
}
