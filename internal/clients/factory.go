// Package clients builds AWS service clients, optionally acting as an assumed role.
package clients

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
)

const sessionName = "stack-deployer"

// Factory creates a client of type T. An empty roleArn yields a client using
// the default credentials.
type Factory[T any] interface {
	Create(ctx context.Context, roleArn string) (T, error)
}

// AssumeRoleFactory creates clients whose credentials come from sts:AssumeRole
type AssumeRoleFactory[T any] struct {
	cfg       aws.Config
	stsClient stscreds.AssumeRoleAPIClient
	newClient func(aws.Config) T
}

// New returns a factory that builds clients with newClient, e.g.
//
//	clients.New(cfg, sts.NewFromConfig(cfg), func(c aws.Config) *cloudformation.Client {
//	    return cloudformation.NewFromConfig(c)
//	})
func New[T any](cfg aws.Config, stsClient stscreds.AssumeRoleAPIClient, newClient func(aws.Config) T) *AssumeRoleFactory[T] {
	return &AssumeRoleFactory[T]{
		cfg:       cfg,
		stsClient: stsClient,
		newClient: newClient,
	}
}

// Create returns a client acting as roleArn, or as the caller when roleArn is empty
func (f *AssumeRoleFactory[T]) Create(_ context.Context, roleArn string) (T, error) {
	if roleArn == "" {
		return f.newClient(f.cfg), nil
	}

	if _, err := arn.Parse(roleArn); err != nil {
		var zero T
		return zero, fmt.Errorf("invalid role arn %s: %w", roleArn, err)
	}

	creds := stscreds.NewAssumeRoleProvider(f.stsClient, roleArn, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = sessionName
	})
	cfg := f.cfg.Copy()
	cfg.Credentials = aws.NewCredentialsCache(creds)

	return f.newClient(cfg), nil
}

// Static always returns the same client regardless of role. Useful for tests
// and for single-account installs.
type Static[T any] struct {
	Client T
}

func (s Static[T]) Create(context.Context, string) (T, error) {
	return s.Client, nil
}
