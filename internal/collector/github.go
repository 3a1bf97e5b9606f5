// Package collector fetches commit and pull request history from GitHub and
// shapes it into raw change records for the pipeline.
package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	rderrors "github.com/rdscope/rdscope-go/internal/errors"
	"github.com/rdscope/rdscope-go/internal/models"
)

const (
	diffFilesPerRecord = 3   // patches sampled per commit
	diffCharsPerFile   = 200 // characters kept per sampled patch
	detailWorkers      = 8   // concurrent per-commit detail fetches
)

// GitHub wraps the GitHub API client with rate limiting and pagination.
type GitHub struct {
	client  *github.Client
	limiter *rate.Limiter
	log     *logrus.Logger
}

// New creates a collector. rateLimit is requests per second against the
// GitHub API; <= 0 selects 10.
func New(token string, rateLimit int, log *logrus.Logger) *GitHub {
	if rateLimit <= 0 {
		rateLimit = 10
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GitHub{
		client:  github.NewClient(nil).WithAuthToken(token),
		limiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		log:     log,
	}
}

// Collect fetches commits and merged pull requests for repo ("owner/name")
// since the given time, as raw records ready for normalization.
func (c *GitHub) Collect(ctx context.Context, repo string, since time.Time) ([]models.RawRecord, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	commits, err := c.collectCommits(ctx, owner, name, since)
	if err != nil {
		return nil, rderrors.NetworkError(err, "collect commits").WithContext("repo", repo)
	}

	prs, err := c.collectPullRequests(ctx, owner, name, since)
	if err != nil {
		return nil, rderrors.NetworkError(err, "collect pull requests").WithContext("repo", repo)
	}

	c.log.WithFields(logrus.Fields{
		"repo":    repo,
		"commits": len(commits),
		"prs":     len(prs),
	}).Info("collection complete")

	return append(commits, prs...), nil
}

func (c *GitHub) collectCommits(ctx context.Context, owner, name string, since time.Time) ([]models.RawRecord, error) {
	opts := &github.CommitsListOptions{
		Since: since,
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var shas []string
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("fetch commits: %w", err)
		}
		for _, commit := range commits {
			shas = append(shas, commit.GetSHA())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	c.log.WithField("count", len(shas)).Debug("commit list fetched, loading details")

	// The list endpoint omits file lists and patches; fetch each commit's
	// detail concurrently.
	records := make([]models.RawRecord, len(shas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailWorkers)

	for i, sha := range shas {
		g.Go(func() error {
			rec, err := c.fetchCommitDetail(gctx, owner, name, sha)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return records, nil
}

func (c *GitHub) fetchCommitDetail(ctx context.Context, owner, name, sha string) (models.RawRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.RawRecord{}, fmt.Errorf("rate limiter: %w", err)
	}

	commit, _, err := c.client.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("fetch commit %s: %w", sha, err)
	}

	var files []string
	for _, f := range commit.Files {
		files = append(files, f.GetFilename())
	}

	var parents []string
	for _, p := range commit.Parents {
		parents = append(parents, p.GetSHA())
	}

	message := commit.GetCommit().GetMessage()
	title, body := splitMessage(message)

	return models.RawRecord{
		ID:          commit.GetSHA(),
		Kind:        models.RecordKindCommit,
		Title:       title,
		Body:        body,
		DiffExcerpt: diffSnippet(commit.Files),
		Author:      commit.GetCommit().GetAuthor().GetEmail(),
		Timestamp:   commit.GetCommit().GetAuthor().GetDate().Time,
		Files:       files,
		ParentIDs:   parents,
		URL:         commit.GetHTMLURL(),
	}, nil
}

func (c *GitHub) collectPullRequests(ctx context.Context, owner, name string, since time.Time) ([]models.RawRecord, error) {
	opts := &github.PullRequestListOptions{
		State:     "closed",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var records []models.RawRecord
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		prs, resp, err := c.client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("fetch pull requests: %w", err)
		}

		done := false
		for _, pr := range prs {
			if pr.GetUpdatedAt().Time.Before(since) {
				done = true
				break
			}
			if pr.MergedAt == nil || pr.MergedAt.Time.Before(since) {
				continue
			}

			rec, err := c.fetchPRRecord(ctx, owner, name, pr)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}

		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return records, nil
}

func (c *GitHub) fetchPRRecord(ctx context.Context, owner, name string, pr *github.PullRequest) (models.RawRecord, error) {
	number := pr.GetNumber()

	if err := c.limiter.Wait(ctx); err != nil {
		return models.RawRecord{}, fmt.Errorf("rate limiter: %w", err)
	}
	prFiles, _, err := c.client.PullRequests.ListFiles(ctx, owner, name, number, &github.ListOptions{PerPage: 100})
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("fetch pr %d files: %w", number, err)
	}

	var files []string
	for _, f := range prFiles {
		files = append(files, f.GetFilename())
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return models.RawRecord{}, fmt.Errorf("rate limiter: %w", err)
	}
	prCommits, _, err := c.client.PullRequests.ListCommits(ctx, owner, name, number, &github.ListOptions{PerPage: 100})
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("fetch pr %d commits: %w", number, err)
	}

	var parents []string
	for _, commit := range prCommits {
		parents = append(parents, commit.GetSHA())
	}

	var labels []string
	for _, label := range pr.Labels {
		labels = append(labels, label.GetName())
	}

	return models.RawRecord{
		ID:          fmt.Sprintf("pr-%d", number),
		Kind:        models.RecordKindPullRequest,
		Title:       pr.GetTitle(),
		Body:        pr.GetBody(),
		DiffExcerpt: diffSnippet(prFiles),
		Author:      pr.GetUser().GetLogin(),
		Timestamp:   pr.GetMergedAt().Time,
		Files:       files,
		ParentIDs:   parents,
		Labels:      labels,
		URL:         pr.GetHTMLURL(),
	}, nil
}

// diffSnippet samples the first few file patches, bounded per file, so the
// normalizer has representative diff content without the full changeset.
func diffSnippet(files []*github.CommitFile) string {
	var parts []string
	for i, f := range files {
		if i >= diffFilesPerRecord {
			break
		}
		patch := f.GetPatch()
		if patch == "" {
			continue
		}
		if len(patch) > diffCharsPerFile {
			patch = patch[:diffCharsPerFile]
		}
		parts = append(parts, fmt.Sprintf("File: %s\n%s", f.GetFilename(), patch))
	}
	return strings.Join(parts, "\n\n")
}

// splitMessage separates a commit message into subject and body.
func splitMessage(message string) (string, string) {
	title, body, found := strings.Cut(message, "\n")
	if !found {
		return strings.TrimSpace(message), ""
	}
	return strings.TrimSpace(title), strings.TrimSpace(body)
}

func splitRepo(repo string) (string, string, error) {
	owner, name, found := strings.Cut(repo, "/")
	if !found || owner == "" || name == "" {
		return "", "", fmt.Errorf("repository must be in owner/name form, got %q", repo)
	}
	return owner, name, nil
}
