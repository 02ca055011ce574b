package di

import "context"

// Option customizes the container built by New
type Option func(*options)

type options struct {
	ctx       context.Context
	providers []any
}

// WithContext sets the context handed to providers. It should carry the
// logger so providers can log through zerolog.Ctx.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// WithProviders registers constructors beyond the core set, typically the
// handler an entry point serves
func WithProviders(providers ...any) Option {
	return func(o *options) {
		o.providers = append(o.providers, providers...)
	}
}
