package utils

import (
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/savaki/gox/slicex"
)

// ApplyOverrides returns declared with every key that also appears in overrides
// replaced by the override value. Keys only present in overrides are dropped;
// an override never introduces a parameter the configuration did not declare.
func ApplyOverrides(declared, overrides map[string]string) map[string]string {
	results := make(map[string]string, len(declared))
	for k, v := range declared {
		if override, ok := overrides[k]; ok {
			v = override
		}
		results[k] = v
	}
	return results
}

// MergeParameters merges multiple parameter maps with later maps having higher precedence
// Returns a CloudFormation parameter list with merged results
func MergeParameters(pp ...map[string]string) []types.Parameter {
	m := map[string]string{}
	for _, p := range pp {
		maps.Copy(m, p)
	}

	var results []types.Parameter
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		results = append(results, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(v),
		})
	}

	return results
}

// Tags converts a tag map into a CloudFormation tag list sorted by key
func Tags(m map[string]string) []types.Tag {
	return slicex.Map(slices.Sorted(maps.Keys(m)), func(k string) types.Tag {
		return types.Tag{
			Key:   aws.String(k),
			Value: aws.String(m[k]),
		}
	})
}

// Outputs converts stack outputs into a key/value map
func Outputs(outputs []types.Output) map[string]string {
	results := make(map[string]string, len(outputs))
	for _, output := range outputs {
		if output.OutputKey == nil {
			continue
		}
		results[*output.OutputKey] = aws.ToString(output.OutputValue)
	}
	return results
}
