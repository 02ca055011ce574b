package errors

import (
	"errors"
	"fmt"
)

var (
	ErrArtifactNotFound    = errors.New("artifact not found")
	ErrObjectNotFound      = errors.New("object not found")
	ErrPreconditionFailed  = errors.New("object precondition failed")
	ErrDeploymentFailed    = errors.New("deployment failed")
	ErrCorrelationNotFound = errors.New("correlation record not found")
	ErrMalformedEvent      = errors.New("malformed event")
	ErrMalformedHandle     = fmt.Errorf("%w: correlation handle", ErrMalformedEvent)
	ErrInvalidLocation     = errors.New("invalid artifact location")
	ErrStackNotFound       = errors.New("stack not found")
	ErrRecordNotFound      = errors.New("deployment record not found")
	ErrStateConflict       = errors.New("pipeline state changed concurrently")
	ErrStateBucketRequired = errors.New("STATE_BUCKET is required")
)
