package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ralt/addonsync/internal/models"
)

type githubReleaseResponse struct {
	TagName     string    `json:"tag_name"`
	PublishedAt time.Time `json:"published_at"`
	ZipballURL  string    `json:"zipball_url"`
	Assets      []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	} `json:"assets"`
}

type githubTagResponse struct {
	Name string `json:"name"`
}

type githubRepoResponse struct {
	DefaultBranch string `json:"default_branch"`
}

type githubCommitResponse struct {
	SHA    string `json:"sha"`
	Commit struct {
		Committer struct {
			Date time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

func (r *Resolver) githubRepoAPI(ref models.RepositoryReference) string {
	return fmt.Sprintf("%s/repos/%s/%s", r.opts.Endpoints.GitHubAPI, url.PathEscape(ref.Owner), url.PathEscape(ref.Name))
}

func (r *Resolver) githubRepoWeb(ref models.RepositoryReference) string {
	return fmt.Sprintf("%s/%s/%s", r.opts.Endpoints.GitHubWeb, url.PathEscape(ref.Owner), url.PathEscape(ref.Name))
}

func (r *Resolver) githubTagArchive(ref models.RepositoryReference, tag string) string {
	return fmt.Sprintf("%s/archive/refs/tags/%s%s", r.githubRepoWeb(ref), url.PathEscape(tag), ArchiveExtension)
}

// githubRelease resolves the latest release's asset
type githubRelease struct{ r *Resolver }

func (s *githubRelease) Tier() models.DiscoveryTier { return models.TierReleaseAsset }

func (s *githubRelease) Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error) {
	var rel githubReleaseResponse
	endpoint := s.r.githubRepoAPI(req.Reference) + "/releases/latest"
	if err := s.r.fetchJSON(ctx, s.Tier(), endpoint, s.r.githubHeaders(), &rel); err != nil {
		return models.ReleaseArtifact{}, err
	}
	if strings.TrimSpace(rel.TagName) == "" {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailureNoMatch, "latest release has no tag")
	}

	assets := make([]asset, 0, len(rel.Assets))
	for _, a := range rel.Assets {
		assets = append(assets, asset{name: a.Name, url: a.BrowserDownloadURL, size: a.Size})
	}
	if a, ok := pickAsset(assets, req.AssetName); ok {
		return models.ReleaseArtifact{
			VersionID:   rel.TagName,
			DownloadURL: a.url,
			Tier:        models.TierReleaseAsset,
			PublishedAt: timePtr(rel.PublishedAt),
			SizeBytes:   sizePtr(a.size),
			AssetName:   a.name,
		}, nil
	}
	if rel.ZipballURL != "" {
		return models.ReleaseArtifact{
			VersionID:   rel.TagName,
			DownloadURL: rel.ZipballURL,
			Tier:        models.TierReleaseArchiveFallback,
			PublishedAt: timePtr(rel.PublishedAt),
		}, nil
	}
	return models.ReleaseArtifact{}, fail(s.Tier(), FailureNoMatch, "release %s has no matching asset", rel.TagName)
}

// githubTag resolves the most recent tag
type githubTag struct{ r *Resolver }

func (s *githubTag) Tier() models.DiscoveryTier { return models.TierTag }

func (s *githubTag) Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error) {
	var tags []githubTagResponse
	endpoint := s.r.githubRepoAPI(req.Reference) + "/tags?per_page=1"
	if err := s.r.fetchJSON(ctx, s.Tier(), endpoint, s.r.githubHeaders(), &tags); err != nil {
		return models.ReleaseArtifact{}, err
	}
	if len(tags) == 0 || strings.TrimSpace(tags[0].Name) == "" {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailureNotFound, "repository has no tags")
	}
	return models.ReleaseArtifact{
		VersionID:   tags[0].Name,
		DownloadURL: s.r.githubTagArchive(req.Reference, tags[0].Name),
		Tier:        models.TierTag,
	}, nil
}

// githubBranch resolves the head commit of the default branch
type githubBranch struct{ r *Resolver }

func (s *githubBranch) Tier() models.DiscoveryTier { return models.TierBranchHead }

func (s *githubBranch) Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error) {
	var repo githubRepoResponse
	base := s.r.githubRepoAPI(req.Reference)
	if err := s.r.fetchJSON(ctx, s.Tier(), base, s.r.githubHeaders(), &repo); err != nil {
		return models.ReleaseArtifact{}, err
	}
	branch := strings.TrimSpace(repo.DefaultBranch)
	if branch == "" {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailureNoMatch, "repository has no default branch")
	}

	var commit githubCommitResponse
	if err := s.r.fetchJSON(ctx, s.Tier(), base+"/commits/"+url.PathEscape(branch), s.r.githubHeaders(), &commit); err != nil {
		return models.ReleaseArtifact{}, err
	}
	version, err := dateCommitVersion(commit.Commit.Committer.Date, commit.SHA)
	if err != nil {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailureNoMatch, "branch %s: %v", branch, err)
	}
	return models.ReleaseArtifact{
		VersionID:   version,
		DownloadURL: fmt.Sprintf("%s/archive/refs/heads/%s%s", s.r.githubRepoWeb(req.Reference), branch, ArchiveExtension),
		Tier:        models.TierBranchHead,
		PublishedAt: timePtr(commit.Commit.Committer.Date),
	}, nil
}
