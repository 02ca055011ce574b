package handlers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/savaki/stack-deployer/internal/errors"
	"github.com/savaki/stack-deployer/internal/models"
)

// StackResourceType is the resource type of events about the stack itself
const StackResourceType = "AWS::CloudFormation::Stack"

// ParseStatusEvent parses the body of a CloudFormation stack notification.
// Bodies are Key='Value' lines; values such as ResourceProperties may span
// several lines.
func ParseStatusEvent(message string) (models.StatusEvent, error) {
	fields := parseFields(message)

	event := models.StatusEvent{
		StackId:              fields["StackId"],
		StackName:            fields["StackName"],
		PhysicalResourceId:   fields["PhysicalResourceId"],
		LogicalResourceId:    fields["LogicalResourceId"],
		ClientRequestToken:   fields["ClientRequestToken"],
		ResourceStatus:       fields["ResourceStatus"],
		ResourceStatusReason: fields["ResourceStatusReason"],
		ResourceType:         fields["ResourceType"],
		Namespace:            fields["Namespace"],
	}

	var missing []string
	if event.ResourceStatus == "" {
		missing = append(missing, "ResourceStatus")
	}
	if event.ResourceType == "" {
		missing = append(missing, "ResourceType")
	}
	if event.StackId == "" && event.StackName == "" {
		missing = append(missing, "StackId")
	}
	if len(missing) > 0 {
		return models.StatusEvent{}, fmt.Errorf("%w: stack notification missing %s", errors.ErrMalformedEvent, strings.Join(missing, ", "))
	}

	return event, nil
}

// Actionable reports whether event describes the stack itself and carries a
// correlation handle. Everything else is child resource noise.
func Actionable(event models.StatusEvent) bool {
	return event.ResourceType == StackResourceType && event.ClientRequestToken != ""
}

// keyLine matches the start of a field, Key='
var keyLine = regexp.MustCompile(`^[A-Za-z]+='`)

// parseFields splits message into Key='Value' fields. A field runs until the
// next line that starts a field; its value ends at the last line in that span
// ending in a quote. Lines after the closing quote are ignored, and a value
// that never closes keeps every line up to the next field.
func parseFields(message string) map[string]string {
	var (
		fields = map[string]string{}
		key    string
		lines  []string
	)

	flush := func() {
		if key == "" {
			return
		}
		end := len(lines)
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.HasSuffix(lines[i], "'") {
				end = i + 1
				lines[i] = strings.TrimSuffix(lines[i], "'")
				break
			}
		}
		fields[key] = strings.Join(lines[:end], "\n")
	}

	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSuffix(line, "\r")

		if keyLine.MatchString(line) {
			flush()
			k, v, _ := strings.Cut(line, "=")
			key, lines = k, []string{v[1:]}
			continue
		}
		if key != "" {
			lines = append(lines, line)
		}
	}
	flush()

	return fields
}
