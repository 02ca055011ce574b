package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config is the deployer configuration for one environment
type Config struct {
	StateBucket          string // bucket holding {pipeline}/state.json
	NotificationTopicArn string // SNS topic stacks publish their events to
	GitHubSecretName     string // secret holding the GitHub PAT; empty disables commit statuses
	JournalTable         string // DynamoDB deployment journal; empty disables the journal
	StateMachineArn      string
	StatusContext        string // prefix of the commit status context
}

// NotificationArns returns the topics passed to CloudFormation
func (c *Config) NotificationArns() []string {
	if c.NotificationTopicArn == "" {
		return nil
	}
	return []string{c.NotificationTopicArn}
}

// ParameterStore reads deployer configuration
type ParameterStore interface {
	// GetParameter returns a single value; missing parameters are errors
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig returns the full configuration for the environment
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMAPI is the subset of the SSM client used by SSMParameterStore
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMParameterStore reads configuration from Parameter Store under Path(env)
type SSMParameterStore struct {
	client SSMAPI
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

func NewSSMParameterStore(client SSMAPI, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// Path returns the parameter path holding configuration for env
func Path(env string) string {
	return fmt.Sprintf("/%s/stack-deployer", env)
}

// GetParameter reads name, caching the value for the life of the store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig reads every parameter under Path(env) in one paginated sweep
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := Path(s.env)

	params := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
		}
		for _, param := range page.Parameters {
			if param.Name != nil && param.Value != nil {
				params[*param.Name] = *param.Value
			}
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	get := func(name string) string {
		return params[path+"/"+name]
	}

	config := &Config{
		StateBucket:          get("state-bucket"),
		NotificationTopicArn: get("notification-topic-arn"),
		GitHubSecretName:     get("github-secret-name"),
		JournalTable:         get("journal-table"),
		StateMachineArn:      get("state-machine-arn"),
		StatusContext:        get("status-context"),
	}

	return withDefaults(config), nil
}

// EnvParameterStore reads configuration from environment variables, for
// local runs without SSM
type EnvParameterStore struct {
	env string
}

func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env: env,
	}
}

// GetParameter retrieves a parameter from environment variables. Path
// prefixes are ignored, so /dev/stack-deployer/state-bucket reads STATE_BUCKET.
func (e *EnvParameterStore) GetParameter(_ context.Context, name string) (string, error) {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return os.Getenv(name), nil
}

// GetConfig reads the variables named after each parameter key
func (e *EnvParameterStore) GetConfig(_ context.Context) (*Config, error) {
	config := &Config{
		StateBucket:          os.Getenv("STATE_BUCKET"),
		NotificationTopicArn: os.Getenv("NOTIFICATION_TOPIC_ARN"),
		GitHubSecretName:     os.Getenv("GITHUB_SECRET_NAME"),
		JournalTable:         os.Getenv("JOURNAL_TABLE"),
		StateMachineArn:      os.Getenv("STATE_MACHINE_ARN"),
		StatusContext:        os.Getenv("STATUS_CONTEXT"),
	}

	return withDefaults(config), nil
}

func withDefaults(config *Config) *Config {
	if config.StatusContext == "" {
		config.StatusContext = "stack-deployer"
	}
	return config
}
