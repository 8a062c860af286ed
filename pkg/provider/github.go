package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHub reports flow results to a GitHub pull request. A change-set
// identifier has the form "owner/repo#number".
type GitHub struct {
	client *github.Client
}

// NewGitHub creates a provider authenticated with token.
func NewGitHub(ctx context.Context, token string) (*GitHub, error) {
	if token == "" {
		return nil, fmt.Errorf("github token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHub{client: github.NewClient(tc)}, nil
}

// NewGitHubWithClient wraps an existing client, used by tests.
func NewGitHubWithClient(client *github.Client) *GitHub {
	return &GitHub{client: client}
}

// ParseChangeSet splits "owner/repo#number" into its parts.
func ParseChangeSet(changeSet string) (owner, repo string, number int, err error) {
	slash := strings.Index(changeSet, "/")
	hash := strings.LastIndex(changeSet, "#")
	if slash <= 0 || hash <= slash {
		return "", "", 0, fmt.Errorf("malformed change-set id %q, want owner/repo#number", changeSet)
	}
	owner = changeSet[:slash]
	repo = changeSet[slash+1 : hash]
	number, err = strconv.Atoi(changeSet[hash+1:])
	if err != nil || repo == "" || number <= 0 {
		return "", "", 0, fmt.Errorf("malformed change-set id %q, want owner/repo#number", changeSet)
	}
	return owner, repo, number, nil
}

// HeadSHA returns the pull request's current head revision.
func (g *GitHub) HeadSHA(ctx context.Context, changeSet string) (string, error) {
	owner, repo, number, err := ParseChangeSet(changeSet)
	if err != nil {
		return "", err
	}
	pr, _, err := g.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", fmt.Errorf("%w: get pull request: %v", ErrProviderUnavailable, err)
	}
	return pr.GetHead().GetSHA(), nil
}

// UpsertCheck finds the check run for (name, sha) and patches it, creating
// it when absent.
func (g *GitHub) UpsertCheck(ctx context.Context, changeSet, name, sha string, conclusion Conclusion, summary string) error {
	owner, repo, _, err := ParseChangeSet(changeSet)
	if err != nil {
		return err
	}

	existing, _, err := g.client.Checks.ListCheckRunsForRef(ctx, owner, repo, sha, &github.ListCheckRunsOptions{
		CheckName: github.String(name),
	})
	if err != nil {
		return fmt.Errorf("%w: list check runs: %v", ErrProviderUnavailable, err)
	}

	status := "completed"
	output := &github.CheckRunOutput{
		Title:   github.String(name),
		Summary: github.String(summary),
	}

	if existing.GetTotal() > 0 {
		run := existing.CheckRuns[0]
		_, _, err = g.client.Checks.UpdateCheckRun(ctx, owner, repo, run.GetID(), github.UpdateCheckRunOptions{
			Name:       name,
			Status:     github.String(status),
			Conclusion: github.String(string(conclusion)),
			Output:     output,
		})
	} else {
		_, _, err = g.client.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
			Name:       name,
			HeadSHA:    sha,
			Status:     github.String(status),
			Conclusion: github.String(string(conclusion)),
			Output:     output,
		})
	}
	if err != nil {
		return fmt.Errorf("%w: upsert check %s: %v", ErrProviderUnavailable, name, err)
	}
	return nil
}

// UpsertComment finds the PR comment carrying marker and replaces its body
// in place, creating the comment on first write.
func (g *GitHub) UpsertComment(ctx context.Context, changeSet, marker, body string) error {
	owner, repo, number, err := ParseChangeSet(changeSet)
	if err != nil {
		return err
	}

	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := g.client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return fmt.Errorf("%w: list comments: %v", ErrProviderUnavailable, err)
		}
		for _, c := range comments {
			if strings.Contains(c.GetBody(), marker) {
				_, _, err = g.client.Issues.EditComment(ctx, owner, repo, c.GetID(), &github.IssueComment{Body: github.String(body)})
				if err != nil {
					return fmt.Errorf("%w: edit comment: %v", ErrProviderUnavailable, err)
				}
				return nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	_, _, err = g.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("%w: create comment: %v", ErrProviderUnavailable, err)
	}
	return nil
}

// ApplyLabels adds labels to the pull request.
func (g *GitHub) ApplyLabels(ctx context.Context, changeSet string, labels []string) error {
	owner, repo, number, err := ParseChangeSet(changeSet)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		return nil
	}
	_, _, err = g.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	if err != nil {
		return fmt.Errorf("%w: apply labels: %v", ErrProviderUnavailable, err)
	}
	return nil
}
