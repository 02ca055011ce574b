package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		status string
		want   Outcome
	}{
		{status: "CREATE_COMPLETE", want: OutcomeSuccess},
		{status: "UPDATE_COMPLETE", want: OutcomeSuccess},
		{status: "IMPORT_COMPLETE", want: OutcomeSuccess},
		{status: "UPDATE_ROLLBACK_COMPLETE", want: OutcomeFailure},
		{status: "ROLLBACK_COMPLETE", want: OutcomeFailure},
		{status: "CREATE_FAILED", want: OutcomeFailure},
		{status: "UPDATE_FAILED", want: OutcomeFailure},
		{status: "UPDATE_ROLLBACK_FAILED", want: OutcomeFailure},
		{status: "CREATE_IN_PROGRESS", want: OutcomeIgnored},
		{status: "UPDATE_IN_PROGRESS", want: OutcomeIgnored},
		{status: "UPDATE_COMPLETE_CLEANUP_IN_PROGRESS", want: OutcomeIgnored},
		{status: "UPDATE_ROLLBACK_COMPLETE_CLEANUP_IN_PROGRESS", want: OutcomeIgnored},
		{status: "", want: OutcomeIgnored},
		{status: "SOMETHING_NEW_COMPLETE", want: OutcomeSuccess},
		{status: "SOMETHING_NEW_ROLLBACK_COMPLETE", want: OutcomeFailure},
		{status: "SOMETHING_NEW_FAILED", want: OutcomeFailure},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status))
		})
	}
}

func TestClassifyTableMatchesSuffixRule(t *testing.T) {
	for status, want := range outcomes {
		assert.Equal(t, want, classifySuffix(string(status)), "status %s", status)
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "ignored", OutcomeIgnored.String())
}
