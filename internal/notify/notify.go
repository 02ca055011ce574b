// Package notify reports deployment progress against the commit that produced
// the deployment.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/savaki/stack-deployer/internal/models"
)

const (
	DefaultBaseURL       = "https://api.github.com"
	DefaultContextPrefix = "stack-deployer"

	// GitHub rejects descriptions longer than this
	maxDescription = 140
)

type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

// Status is a single progress report
type Status struct {
	State       State
	Commit      models.CommitInfo
	Environment string
	StackName   string
	Description string
}

// Notifier publishes a status
type Notifier interface {
	Notify(ctx context.Context, status Status) error
}

// Nop discards every status
type Nop struct{}

func (Nop) Notify(context.Context, Status) error {
	return nil
}

type fireAndForget struct {
	target Notifier
}

// FireAndForget wraps target so delivery failures are logged and never
// returned to the caller
func FireAndForget(target Notifier) Notifier {
	return fireAndForget{target: target}
}

func (f fireAndForget) Notify(ctx context.Context, status Status) error {
	if err := f.target.Notify(ctx, status); err != nil {
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("state", string(status.State)).
			Str("stack_name", status.StackName).
			Str("ref", status.Commit.GithubRef).
			Msg("Failed to publish commit status")
	}
	return nil
}

type GitHubNotifier struct {
	token         string
	baseURL       string
	contextPrefix string
	httpClient    *http.Client
}

type Option func(*GitHubNotifier)

func WithBaseURL(baseURL string) Option {
	return func(g *GitHubNotifier) {
		g.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithContextPrefix(prefix string) Option {
	return func(g *GitHubNotifier) {
		if prefix != "" {
			g.contextPrefix = prefix
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(g *GitHubNotifier) {
		g.httpClient = client
	}
}

// NewGitHub returns a notifier that posts commit statuses using token
func NewGitHub(token string, opts ...Option) *GitHubNotifier {
	g := &GitHubNotifier{
		token:         token,
		baseURL:       DefaultBaseURL,
		contextPrefix: DefaultContextPrefix,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type commitStatusRequest struct {
	State       string `json:"state"`
	Description string `json:"description,omitempty"`
	Context     string `json:"context"`
}

// Context returns the status context used for environment
func (g *GitHubNotifier) Context(environment string) string {
	if environment == "" {
		return g.contextPrefix
	}
	return g.contextPrefix + "/" + environment
}

// Notify creates a commit status. Statuses without a complete commit
// reference are skipped.
func (g *GitHubNotifier) Notify(ctx context.Context, status Status) error {
	logger := zerolog.Ctx(ctx)

	if !status.Commit.Complete() {
		logger.Debug().
			Str("stack_name", status.StackName).
			Msg("Skipping commit status, no commit provenance")
		return nil
	}

	description := status.Description
	if description == "" {
		description = defaultDescription(status)
	}
	if len(description) > maxDescription {
		description = description[:maxDescription-3] + "..."
	}

	bodyBytes, err := json.Marshal(commitStatusRequest{
		State:       string(status.State),
		Description: description,
		Context:     g.Context(status.Environment),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/statuses/%s", g.baseURL, status.Commit.GithubOwner, status.Commit.GithubRepository, status.Commit.GithubRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create commit status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to create commit status: status %d, body: %s", resp.StatusCode, string(body))
	}

	logger.Info().
		Str("state", string(status.State)).
		Str("owner", status.Commit.GithubOwner).
		Str("repo", status.Commit.GithubRepository).
		Str("ref", status.Commit.GithubRef).
		Msg("Published commit status")

	return nil
}

func defaultDescription(status Status) string {
	switch status.State {
	case StatePending:
		return fmt.Sprintf("Deploying %s", status.StackName)
	case StateSuccess:
		return fmt.Sprintf("Deployed %s", status.StackName)
	default:
		return fmt.Sprintf("Failed to deploy %s", status.StackName)
	}
}
