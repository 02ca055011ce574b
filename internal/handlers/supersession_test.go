package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	deployerrors "github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/models"
	"github.com/savaki/stack-deployer/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stateBucket = "pipeline-state"

func at(hour, minute int) time.Time {
	return time.Date(2024, 5, 1, hour, minute, 0, 0, time.UTC)
}

type stateFunc func(ctx context.Context, pipeline string, commitTime time.Time) (bool, error)

func (fn stateFunc) Advance(ctx context.Context, pipeline string, commitTime time.Time) (bool, error) {
	return fn(ctx, pipeline, commitTime)
}

func newSupersessionHandler(t *testing.T) (*SupersessionHandler, *state.Store, *recordingWorkflow) {
	objects, _ := newObjects()
	store, err := state.New(objects, stateBucket)
	require.NoError(t, err)

	workflow := &recordingWorkflow{}
	return NewSupersessionHandler(store, workflow), store, workflow
}

func TestParseSupersessionRequest(t *testing.T) {
	request, err := ParseSupersessionRequest(`{"Pipeline":"bar","CommitTimestamp":"2024-05-01T10:00:00Z","Token":"t"}`)
	require.NoError(t, err)
	assert.Equal(t, "bar", request.Pipeline)
	assert.True(t, at(10, 0).Equal(request.CommitTimestamp))

	for _, body := range []string{
		`{`,
		`{"CommitTimestamp":"2024-05-01T10:00:00Z","Token":"t"}`,
		`{"Pipeline":"bar","CommitTimestamp":"2024-05-01T10:00:00Z"}`,
		`{"Pipeline":"bar","Token":"t"}`,
		`{"Pipeline":"bar","CommitTimestamp":"yesterday","Token":"t"}`,
	} {
		_, err := ParseSupersessionRequest(body)
		assert.True(t, errors.Is(err, deployerrors.ErrMalformedEvent), body)
	}
}

func TestSupersessionHandler_Monotonic(t *testing.T) {
	tests := []struct {
		name       string
		commit     time.Time
		superseded bool
		want       time.Time
	}{
		{name: "older", commit: at(9, 59), superseded: true, want: at(10, 0)},
		{name: "equal", commit: at(10, 0), want: at(10, 0)},
		{name: "newer", commit: at(10, 1), want: at(10, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext()
			handler, store, workflow := newSupersessionHandler(t)
			require.NoError(t, store.Reset(ctx, "bar", models.StateInfo{LastCommitTimestamp: at(10, 0)}))

			result, err := handler.Check(ctx, models.SupersessionRequest{Pipeline: "bar", CommitTimestamp: tt.commit, Token: "token"})
			require.NoError(t, err)
			assert.Equal(t, tt.superseded, result.Superseded)

			require.Len(t, workflow.successes, 1)
			assert.Equal(t, models.SupersessionResult{Superseded: tt.superseded}, workflow.successes[0].Output)

			snapshot, err := store.Load(ctx, "bar")
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(snapshot.Info.LastCommitTimestamp))
		})
	}
}

func TestSupersessionHandler_NoHistory(t *testing.T) {
	handler, _, workflow := newSupersessionHandler(t)

	result, err := handler.Check(testContext(), models.SupersessionRequest{Pipeline: "new", CommitTimestamp: at(1, 0), Token: "token"})
	require.NoError(t, err)
	assert.False(t, result.Superseded)
	assert.Len(t, workflow.successes, 1)
}

func TestSupersessionHandler_StateError(t *testing.T) {
	workflow := &recordingWorkflow{}
	handler := NewSupersessionHandler(stateFunc(func(ctx context.Context, pipeline string, commitTime time.Time) (bool, error) {
		return false, deployerrors.ErrStateConflict
	}), workflow)

	_, err := handler.Check(testContext(), models.SupersessionRequest{Pipeline: "bar", CommitTimestamp: at(1, 0), Token: "token"})
	assert.True(t, errors.Is(err, deployerrors.ErrStateConflict))
	assert.Equal(t, 0, workflow.signals())
}

func TestSupersessionHandler_TaskClosed(t *testing.T) {
	handler, _, workflow := newSupersessionHandler(t)
	workflow.err = &sfntypes.TaskDoesNotExist{Message: aws.String("gone")}

	_, err := handler.Check(testContext(), models.SupersessionRequest{Pipeline: "bar", CommitTimestamp: at(1, 0), Token: "token"})
	assert.NoError(t, err)
}

// Scenario C: triggers at 10:00 then 09:30 for the same pipeline
func TestScenario_StaleTrigger(t *testing.T) {
	ctx := testContext()
	handler, store, workflow := newSupersessionHandler(t)

	message := func(id string, commit time.Time) events.SQSMessage {
		data, err := json.Marshal(models.SupersessionRequest{Pipeline: "bar", CommitTimestamp: commit, Token: "token-" + id})
		require.NoError(t, err)
		return events.SQSMessage{MessageId: id, Body: string(data)}
	}

	response, err := handler.HandleSQS(ctx, events.SQSEvent{Records: []events.SQSMessage{message("1", at(10, 0))}})
	require.NoError(t, err)
	assert.Empty(t, response.BatchItemFailures)

	response, err = handler.HandleSQS(ctx, events.SQSEvent{Records: []events.SQSMessage{message("2", at(9, 30))}})
	require.NoError(t, err)
	assert.Empty(t, response.BatchItemFailures)

	require.Len(t, workflow.successes, 2)
	assert.Equal(t, success{Token: "token-1", Output: models.SupersessionResult{Superseded: false}}, workflow.successes[0])
	assert.Equal(t, success{Token: "token-2", Output: models.SupersessionResult{Superseded: true}}, workflow.successes[1])

	snapshot, err := store.Load(ctx, "bar")
	require.NoError(t, err)
	assert.True(t, at(10, 0).Equal(snapshot.Info.LastCommitTimestamp))
}
