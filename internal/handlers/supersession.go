package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/models"
)

// SupersessionHandler tells the workflow whether a trigger is older than the
// newest one already recorded for its pipeline
type SupersessionHandler struct {
	state    PipelineState
	workflow Workflow
}

func NewSupersessionHandler(state PipelineState, workflow Workflow) *SupersessionHandler {
	return &SupersessionHandler{
		state:    state,
		workflow: workflow,
	}
}

// HandleSQS processes every supersession check in the batch
func (h *SupersessionHandler) HandleSQS(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	return eachMessage(ctx, event, h.HandleMessage), nil
}

// ParseSupersessionRequest decodes and validates a supersession check body
func ParseSupersessionRequest(body string) (models.SupersessionRequest, error) {
	var request models.SupersessionRequest
	if err := json.Unmarshal([]byte(body), &request); err != nil {
		return models.SupersessionRequest{}, fmt.Errorf("%w: %v", errors.ErrMalformedEvent, err)
	}

	switch {
	case request.Pipeline == "":
		return models.SupersessionRequest{}, fmt.Errorf("%w: Pipeline is required", errors.ErrMalformedEvent)
	case request.Token == "":
		return models.SupersessionRequest{}, fmt.Errorf("%w: Token is required", errors.ErrMalformedEvent)
	case request.CommitTimestamp.IsZero():
		return models.SupersessionRequest{}, fmt.Errorf("%w: CommitTimestamp is required", errors.ErrMalformedEvent)
	}

	return request, nil
}

func (h *SupersessionHandler) HandleMessage(ctx context.Context, message events.SQSMessage) error {
	request, err := ParseSupersessionRequest(message.Body)
	if err != nil {
		return err
	}
	_, err = h.Check(ctx, request)
	return err
}

// Check arbitrates request and signals the workflow with the result. State is
// advanced before the workflow is told, so a redelivered trigger reaches the
// same answer.
func (h *SupersessionHandler) Check(ctx context.Context, request models.SupersessionRequest) (result models.SupersessionResult, err error) {
	logger := zerolog.Ctx(ctx).With().
		Str("pipeline", request.Pipeline).
		Time("commit_time", request.CommitTimestamp).
		Logger()
	ctx = logger.WithContext(ctx)

	defer func(begin time.Time) {
		logger.Info().
			Interface("error", err).
			Bool("superseded", result.Superseded).
			Dur("duration", time.Since(begin)).
			Msg("Checked supersession")
	}(time.Now())

	superseded, err := h.state.Advance(ctx, request.Pipeline, request.CommitTimestamp)
	if err != nil {
		return models.SupersessionResult{}, err
	}

	result = models.SupersessionResult{Superseded: superseded}
	if _, err := signal(ctx, func() error { return h.workflow.SendSuccess(ctx, request.Token, result) }); err != nil {
		return models.SupersessionResult{}, err
	}

	return result, nil
}
