package stack

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// Outcome is how a stack status should be reported to the workflow
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "ignored"
	}
}

// outcomes covers every stack status CloudFormation publishes
var outcomes = map[types.StackStatus]Outcome{
	types.StackStatusCreateInProgress:                        OutcomeIgnored,
	types.StackStatusCreateFailed:                            OutcomeFailure,
	types.StackStatusCreateComplete:                          OutcomeSuccess,
	types.StackStatusRollbackInProgress:                      OutcomeIgnored,
	types.StackStatusRollbackFailed:                          OutcomeFailure,
	types.StackStatusRollbackComplete:                        OutcomeFailure,
	types.StackStatusDeleteInProgress:                        OutcomeIgnored,
	types.StackStatusDeleteFailed:                            OutcomeFailure,
	types.StackStatusDeleteComplete:                          OutcomeSuccess,
	types.StackStatusUpdateInProgress:                        OutcomeIgnored,
	types.StackStatusUpdateCompleteCleanupInProgress:         OutcomeIgnored,
	types.StackStatusUpdateComplete:                          OutcomeSuccess,
	types.StackStatusUpdateFailed:                            OutcomeFailure,
	types.StackStatusUpdateRollbackInProgress:                OutcomeIgnored,
	types.StackStatusUpdateRollbackFailed:                    OutcomeFailure,
	types.StackStatusUpdateRollbackCompleteCleanupInProgress: OutcomeIgnored,
	types.StackStatusUpdateRollbackComplete:                  OutcomeFailure,
	types.StackStatusReviewInProgress:                        OutcomeIgnored,
	types.StackStatusImportInProgress:                        OutcomeIgnored,
	types.StackStatusImportComplete:                          OutcomeSuccess,
	types.StackStatusImportRollbackInProgress:                OutcomeIgnored,
	types.StackStatusImportRollbackFailed:                    OutcomeFailure,
	types.StackStatusImportRollbackComplete:                  OutcomeFailure,
}

// Classify maps a resource status to an outcome. Statuses ending in
// ROLLBACK_COMPLETE or FAILED are failures, other statuses ending in COMPLETE
// are successes, everything else is ignored. Statuses missing from the table
// fall back to the same suffix rule.
func Classify(status string) Outcome {
	if outcome, ok := outcomes[types.StackStatus(status)]; ok {
		return outcome
	}
	return classifySuffix(status)
}

func classifySuffix(status string) Outcome {
	switch {
	case strings.HasSuffix(status, "ROLLBACK_COMPLETE"), strings.HasSuffix(status, "FAILED"):
		return OutcomeFailure
	case strings.HasSuffix(status, "COMPLETE"):
		return OutcomeSuccess
	default:
		return OutcomeIgnored
	}
}
