package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ralt/addonsync/internal/models"
)

type gitlabReleaseResponse struct {
	TagName    string    `json:"tag_name"`
	ReleasedAt time.Time `json:"released_at"`
	Assets     struct {
		Links []struct {
			Name           string `json:"name"`
			URL            string `json:"url"`
			DirectAssetURL string `json:"direct_asset_url"`
		} `json:"links"`
		Sources []struct {
			Format string `json:"format"`
			URL    string `json:"url"`
		} `json:"sources"`
	} `json:"assets"`
}

type gitlabTagResponse struct {
	Name string `json:"name"`
}

type gitlabProjectResponse struct {
	DefaultBranch string `json:"default_branch"`
}

type gitlabCommitResponse struct {
	ID            string    `json:"id"`
	CommittedDate time.Time `json:"committed_date"`
}

// gitlabProjectAPI addresses the project by its url-encoded path
func (r *Resolver) gitlabProjectAPI(ref models.RepositoryReference) string {
	return fmt.Sprintf("%s/projects/%s", r.opts.Endpoints.GitLabAPI, url.PathEscape(ref.Owner+"/"+ref.Name))
}

func (r *Resolver) gitlabRepoWeb(ref models.RepositoryReference) string {
	return fmt.Sprintf("%s/%s/%s", r.opts.Endpoints.GitLabWeb, url.PathEscape(ref.Owner), url.PathEscape(ref.Name))
}

// gitlabArchive is the source archive of a tag or branch
func (r *Resolver) gitlabArchive(ref models.RepositoryReference, refName string) string {
	flat := strings.ReplaceAll(refName, "/", "-")
	return fmt.Sprintf("%s/-/archive/%s/%s-%s%s", r.gitlabRepoWeb(ref), url.PathEscape(refName), url.PathEscape(ref.Name), url.PathEscape(flat), ArchiveExtension)
}

// gitlabRelease resolves the latest release's asset link
type gitlabRelease struct{ r *Resolver }

func (s *gitlabRelease) Tier() models.DiscoveryTier { return models.TierReleaseAsset }

func (s *gitlabRelease) Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error) {
	var rel gitlabReleaseResponse
	endpoint := s.r.gitlabProjectAPI(req.Reference) + "/releases/permalink/latest"
	if err := s.r.fetchJSON(ctx, s.Tier(), endpoint, s.r.gitlabHeaders(), &rel); err != nil {
		return models.ReleaseArtifact{}, err
	}
	if strings.TrimSpace(rel.TagName) == "" {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailureNoMatch, "latest release has no tag")
	}

	assets := make([]asset, 0, len(rel.Assets.Links))
	for _, l := range rel.Assets.Links {
		link := l.DirectAssetURL
		if link == "" {
			link = l.URL
		}
		assets = append(assets, asset{name: l.Name, url: link})
	}
	if a, ok := pickAsset(assets, req.AssetName); ok {
		return models.ReleaseArtifact{
			VersionID:   rel.TagName,
			DownloadURL: a.url,
			Tier:        models.TierReleaseAsset,
			PublishedAt: timePtr(rel.ReleasedAt),
			AssetName:   a.name,
		}, nil
	}
	for _, src := range rel.Assets.Sources {
		if strings.EqualFold(src.Format, strings.TrimPrefix(ArchiveExtension, ".")) && src.URL != "" {
			return models.ReleaseArtifact{
				VersionID:   rel.TagName,
				DownloadURL: src.URL,
				Tier:        models.TierReleaseArchiveFallback,
				PublishedAt: timePtr(rel.ReleasedAt),
			}, nil
		}
	}
	return models.ReleaseArtifact{}, fail(s.Tier(), FailureNoMatch, "release %s has no matching asset", rel.TagName)
}

// gitlabTag resolves the most recent tag
type gitlabTag struct{ r *Resolver }

func (s *gitlabTag) Tier() models.DiscoveryTier { return models.TierTag }

func (s *gitlabTag) Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error) {
	var tags []gitlabTagResponse
	endpoint := s.r.gitlabProjectAPI(req.Reference) + "/repository/tags?per_page=1"
	if err := s.r.fetchJSON(ctx, s.Tier(), endpoint, s.r.gitlabHeaders(), &tags); err != nil {
		return models.ReleaseArtifact{}, err
	}
	if len(tags) == 0 || strings.TrimSpace(tags[0].Name) == "" {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailureNotFound, "repository has no tags")
	}
	return models.ReleaseArtifact{
		VersionID:   tags[0].Name,
		DownloadURL: s.r.gitlabArchive(req.Reference, tags[0].Name),
		Tier:        models.TierTag,
	}, nil
}

// gitlabBranch resolves the head commit of the default branch
type gitlabBranch struct{ r *Resolver }

func (s *gitlabBranch) Tier() models.DiscoveryTier { return models.TierBranchHead }

func (s *gitlabBranch) Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error) {
	var project gitlabProjectResponse
	base := s.r.gitlabProjectAPI(req.Reference)
	if err := s.r.fetchJSON(ctx, s.Tier(), base, s.r.gitlabHeaders(), &project); err != nil {
		return models.ReleaseArtifact{}, err
	}
	branch := strings.TrimSpace(project.DefaultBranch)
	if branch == "" {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailureNoMatch, "project has no default branch")
	}

	var commit gitlabCommitResponse
	if err := s.r.fetchJSON(ctx, s.Tier(), base+"/repository/commits/"+url.PathEscape(branch), s.r.gitlabHeaders(), &commit); err != nil {
		return models.ReleaseArtifact{}, err
	}
	version, err := dateCommitVersion(commit.CommittedDate, commit.ID)
	if err != nil {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailureNoMatch, "branch %s: %v", branch, err)
	}
	return models.ReleaseArtifact{
		VersionID:   version,
		DownloadURL: s.r.gitlabArchive(req.Reference, branch),
		Tier:        models.TierBranchHead,
		PublishedAt: timePtr(commit.CommittedDate),
	}, nil
}
