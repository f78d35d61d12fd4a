package nativebind

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

var fullSHA = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// Resolver turns a source pin into one full commit SHA.
type Resolver interface {
	Resolve(ctx context.Context, source SourceConfig) (string, error)
}

// GitResolver resolves pins with git ls-remote.
//
// A full commit SHA resolves to itself without contacting the remote. An
// abbreviated commit cannot be expanded by ls-remote; it is returned as is and
// the fetcher verifies it after checkout.
type GitResolver struct {
	Runner Runner
}

func (r *GitResolver) Resolve(ctx context.Context, source SourceConfig) (string, error) {
	if source.Commit != "" {
		return strings.ToLower(source.Commit), nil
	}

	ref := "refs/heads/" + source.Branch
	out, err := r.Runner.Run(ctx, Command{
		Name:       "git",
		Args:       []string{"ls-remote", source.URL, ref},
		StdoutOnly: true,
	})
	if err != nil {
		return "", fmt.Errorf("git ls-remote %s: %w", source.URL, err)
	}

	for _, line := range outputLines(out) {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == ref && fullSHA.MatchString(fields[0]) {
			return strings.ToLower(fields[0]), nil
		}
	}
	return "", fmt.Errorf("branch %q not found at %s", source.Branch, source.URL)
}

// GitHubResolver resolves pins on github.com repositories through the GitHub
// API, which also expands abbreviated commits. Other URLs go to Fallback.
type GitHubResolver struct {
	client   *github.Client
	Fallback Resolver
}

// NewGitHubResolver creates a resolver authenticated with token. An empty
// token uses the anonymous rate limit.
func NewGitHubResolver(ctx context.Context, token string, fallback Resolver) *GitHubResolver {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &GitHubResolver{client: github.NewClient(httpClient), Fallback: fallback}
}

func (r *GitHubResolver) Resolve(ctx context.Context, source SourceConfig) (string, error) {
	owner, repo, ok := parseGitHubURL(source.URL)
	if !ok {
		if r.Fallback == nil {
			return "", fmt.Errorf("not a github.com repository: %s", source.URL)
		}
		return r.Fallback.Resolve(ctx, source)
	}

	ref := source.Commit
	if ref == "" {
		ref = source.Branch
	}

	sha, _, err := r.client.Repositories.GetCommitSHA1(ctx, owner, repo, ref, "")
	if err != nil {
		return "", fmt.Errorf("resolve %s/%s@%s: %w", owner, repo, ref, err)
	}
	sha = strings.TrimSpace(sha)
	if !fullSHA.MatchString(sha) {
		return "", fmt.Errorf("resolve %s/%s@%s: unexpected response %q", owner, repo, ref, sha)
	}
	return strings.ToLower(sha), nil
}

// parseGitHubURL extracts owner and repository from https, ssh and scp-style
// github.com URLs.
func parseGitHubURL(raw string) (owner, repo string, ok bool) {
	var path string
	switch {
	case strings.HasPrefix(raw, "git@github.com:"):
		path = strings.TrimPrefix(raw, "git@github.com:")
	default:
		u, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(u.Hostname(), "github.com") {
			return "", "", false
		}
		path = u.Path
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
