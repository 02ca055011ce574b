package models

import "time"

// CommitInfo identifies the commit a deployment was built from
type CommitInfo struct {
	GithubOwner      string `json:"GithubOwner"`
	GithubRepository string `json:"GithubRepository"`
	GithubRef        string `json:"GithubRef"`
}

// Complete reports whether enough provenance is present to address a commit
func (c CommitInfo) Complete() bool {
	return c.GithubOwner != "" && c.GithubRepository != "" && c.GithubRef != ""
}

// DeploymentRequest is the body of a deployment queue message
type DeploymentRequest struct {
	ZipLocation                   string            `json:"ZipLocation"`                             // s3://bucket/key or arn:aws:s3:::bucket/key
	TemplateFileName              string            `json:"TemplateFileName"`                        // template inside the artifact
	TemplateConfigurationFileName string            `json:"TemplateConfigurationFileName,omitempty"` // optional configuration inside the artifact
	StackName                     string            `json:"StackName"`
	RoleArn                       string            `json:"RoleArn,omitempty"`
	Token                         string            `json:"Token"` // workflow task token
	ParameterOverrides            map[string]string `json:"ParameterOverrides,omitempty"`
	Capabilities                  []string          `json:"Capabilities,omitempty"`
	EnvironmentName               string            `json:"EnvironmentName,omitempty"`
	CommitInfo                    CommitInfo        `json:"CommitInfo"`
}

// TokenInfo is the correlation record stored at tokens/{hash} in the artifact bucket
type TokenInfo struct {
	TaskToken        string `json:"TaskToken"`
	QueueUrl         string `json:"QueueUrl"`
	ReceiptHandle    string `json:"ReceiptHandle"`
	RoleArn          string `json:"RoleArn,omitempty"`
	GithubOwner      string `json:"GithubOwner,omitempty"`
	GithubRepository string `json:"GithubRepository,omitempty"`
	GithubRef        string `json:"GithubRef,omitempty"`
	EnvironmentName  string `json:"EnvironmentName,omitempty"`
}

// CommitInfo returns the provenance captured when the record was written
func (t TokenInfo) CommitInfo() CommitInfo {
	return CommitInfo{
		GithubOwner:      t.GithubOwner,
		GithubRepository: t.GithubRepository,
		GithubRef:        t.GithubRef,
	}
}

// StatusEvent is a single stack notification published by CloudFormation
type StatusEvent struct {
	StackId              string
	StackName            string
	PhysicalResourceId   string
	LogicalResourceId    string
	ClientRequestToken   string
	ResourceStatus       string
	ResourceStatusReason string
	ResourceType         string
	SourceTopic          string // SNS topic the notification arrived on
	Namespace            string // account id
}

// StateInfo is stored at {pipeline}/state.json in the state bucket
type StateInfo struct {
	LastCommitTimestamp time.Time `json:"LastCommitTimestamp"`
}

// SupersessionRequest asks whether a trigger is older than the last one recorded
type SupersessionRequest struct {
	Pipeline        string    `json:"Pipeline"`
	CommitTimestamp time.Time `json:"CommitTimestamp"`
	Token           string    `json:"Token"`
}

// SupersessionResult is sent to the workflow as the task output
type SupersessionResult struct {
	Superseded bool `json:"Superseded"`
}
