// Package di assembles the deployer's collaborators with uber's dig. Every
// Lambda and CLI builds its container with New and pulls its handler out with
// MustGet; dig only constructs what the requested handler depends on.
package di

import (
	"context"
	"fmt"

	"github.com/savaki/stack-deployer/internal/correlation"
	"go.uber.org/dig"
)

// Container is the part of *dig.Container the entry points rely on
type Container interface {
	Invoke(function any, opts ...dig.InvokeOption) error
	Provide(constructor any, opts ...dig.ProvideOption) error
}

// MustGet resolves T from container and panics when it cannot be built.
// Entry points call it once at startup, where a panic is the right outcome
// for a broken configuration.
func MustGet[T any](container Container) T {
	var want T
	if err := container.Invoke(func(got T) { want = got }); err != nil {
		panic(fmt.Errorf("di: unable to resolve %T: %w", want, err))
	}
	return want
}

// core constructs the shared AWS clients, configuration and stores. Handlers
// are added per entry point with WithProviders.
var core = []any{
	ProvideAWSConfig,
	ProvideSSMClient,
	ProvideParameterStore,
	ProvideAppConfig,
	ProvideS3Client,
	ProvideObjectStore,
	ProvideStateStore,
	ProvideStackDeployer,
	ProvideStepFunctions,
	ProvideOrchestrator,
	ProvideSQSClient,
	ProvideDynamoDB,
	ProvideJournal,
	ProvideSecretsManager,
	ProvideNotifier,
	correlation.New,
}

// New returns a container for env. The environment name is injectable as a
// plain string and the context from WithContext as context.Context.
func New(env string, opts ...Option) (Container, error) {
	o := options{
		ctx: context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	providers := []any{
		func() string { return env },
		func() context.Context { return o.ctx },
	}
	providers = append(providers, core...)
	providers = append(providers, o.providers...)

	container := dig.New()
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return nil, fmt.Errorf("di: failed to register %T: %w", provider, err)
		}
	}

	return container, nil
}
