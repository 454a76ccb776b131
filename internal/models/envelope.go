package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Envelope is the unit of work carried by the queue. It names the original
// image and the bucket its processed copy goes to. Envelopes are passed by
// value and never modified after they are built.
type Envelope struct {
	// Bucket holding the original upload
	SourceBucket string `json:"bucket_original" validate:"required"`

	// Bucket receiving the transformed result
	DestinationBucket string `json:"bucket_processed" validate:"required"`

	// Key of the original object inside SourceBucket
	ObjectKey string `json:"object_name" validate:"required"`
}

// Decode errors
var (
	ErrEmptyBody        = errors.New("message body is empty")
	ErrMalformedJSON    = errors.New("message body is not a valid JSON object")
	ErrMissingSource    = errors.New("bucket_original is required")
	ErrMissingDest      = errors.New("bucket_processed is required")
	ErrMissingObjectKey = errors.New("object_name is required")
	ErrInvalidEnvelope  = errors.New("invalid envelope")
)

// DecodeError is returned when a message body cannot be turned into a valid
// Envelope. Body holds the raw payload for logging.
type DecodeError struct {
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewEnvelope builds a validated envelope.
func NewEnvelope(sourceBucket, destinationBucket, objectKey string) (Envelope, error) {
	env := Envelope{
		SourceBucket:      strings.TrimSpace(sourceBucket),
		DestinationBucket: strings.TrimSpace(destinationBucket),
		ObjectKey:         strings.TrimSpace(objectKey),
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that every required field is set.
func (e Envelope) Validate() error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	// Report the first failing field, in declaration order.
	switch verrs[0].Field() {
	case "SourceBucket":
		return ErrMissingSource
	case "DestinationBucket":
		return ErrMissingDest
	case "ObjectKey":
		return ErrMissingObjectKey
	default:
		return fmt.Errorf("%w: %s", ErrInvalidEnvelope, verrs[0].Error())
	}
}

// Marshal encodes the envelope in its wire form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses and validates a queue message body. Every failure is
// reported as a *DecodeError.
func DecodeEnvelope(body []byte) (Envelope, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return Envelope{}, &DecodeError{Body: body, Err: ErrEmptyBody}
	}

	var raw Envelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, &DecodeError{Body: body, Err: fmt.Errorf("%w: %v", ErrMalformedJSON, err)}
	}

	env, err := NewEnvelope(raw.SourceBucket, raw.DestinationBucket, raw.ObjectKey)
	if err != nil {
		return Envelope{}, &DecodeError{Body: body, Err: err}
	}
	return env, nil
}
