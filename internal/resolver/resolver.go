package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ralt/addonsync/internal/models"
	"github.com/ralt/addonsync/internal/transport"
)

// Options configures a Resolver
type Options struct {
	Endpoints       Endpoints
	GitHubToken     string
	GitLabToken     string
	CacheTTL        time.Duration
	MetadataTimeout time.Duration
	ScrapeTimeout   time.Duration
}

// chain is the ordered list of API tiers for one platform plus its gated
// web-scrape tier
type chain struct {
	tiers  []DiscoveryStrategy
	scrape DiscoveryStrategy
}

// Resolver finds the latest installable artifact for a repository. It is
// the resolver context: one per process, shared by every resolution.
type Resolver struct {
	transport transport.Transport
	opts      Options
	cache     *Cache
	chains    map[models.Platform]chain
}

// New creates a Resolver using t for every outbound call
func New(t transport.Transport, opts Options) *Resolver {
	opts.Endpoints = opts.Endpoints.normalized()
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = 10 * time.Second
	}
	if opts.ScrapeTimeout <= 0 {
		opts.ScrapeTimeout = 25 * time.Second
	}

	r := &Resolver{
		transport: t,
		opts:      opts,
		cache:     NewCache(opts.CacheTTL),
	}
	r.chains = map[models.Platform]chain{
		models.PlatformGitHub: {
			tiers: []DiscoveryStrategy{
				&githubRelease{r},
				&githubTag{r},
				&githubBranch{r},
			},
			scrape: &githubScrape{r},
		},
		models.PlatformGitLab: {
			tiers: []DiscoveryStrategy{
				&gitlabRelease{r},
				&gitlabTag{r},
				&gitlabBranch{r},
			},
			scrape: &gitlabScrape{r},
		},
	}
	return r
}

// Cache returns the resolver's cache
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve walks the tier chain for ref and returns the first usable artifact.
// It only fails with ResolutionExhausted, once every tier has failed.
func (r *Resolver) Resolve(ctx context.Context, ref models.RepositoryReference, assetName string, priority models.DownloadPriority) (models.ReleaseArtifact, error) {
	req := Request{Reference: ref, AssetName: assetName, Priority: priority}
	log := logrus.WithFields(logrus.Fields{
		"repo":     ref.Slug(),
		"platform": ref.Platform,
	})

	if artifact, ok := r.cache.Get(req); ok {
		log.Debugf("Using cached resolution %s (%s)", artifact.VersionID, artifact.Tier)
		return artifact, nil
	}

	c, ok := r.chains[ref.Platform]
	if !ok {
		return models.ReleaseArtifact{}, models.NewError(models.ErrInvalidReference, ref.Slug(),
			fmt.Errorf("unsupported platform %s", ref.Platform))
	}

	tiers := c.tiers
	if priority == models.PreferCode {
		tiers = tiersFrom(tiers, models.TierBranchHead)
	}

	var failures []error
	scraped := false
	attempt := func(s DiscoveryStrategy) (models.ReleaseArtifact, bool) {
		artifact, err := s.Attempt(ctx, req)
		if err == nil {
			if verr := artifact.Validate(); verr != nil {
				err = &TierFailure{Tier: s.Tier(), Kind: FailurePlaceholder, Err: verr}
			}
		}
		if err != nil {
			log.WithField("tier", s.Tier()).Debugf("Tier failed: %v", err)
			failures = append(failures, err)
			return models.ReleaseArtifact{}, false
		}
		return artifact, true
	}

	for _, s := range tiers {
		artifact, ok := attempt(s)
		if ok {
			return r.finish(req, artifact), nil
		}

		// Rate limits and transport errors go to the web surface before
		// falling further back; confirmed absences do not.
		if !scraped && triggersScrape(failures[len(failures)-1]) {
			scraped = true
			if artifact, ok := attempt(c.scrape); ok {
				return r.finish(req, artifact), nil
			}
		}
	}

	log.Warnf("All discovery tiers failed")
	return models.ReleaseArtifact{}, models.NewError(models.ErrResolutionExhausted, ref.Slug(), errors.Join(failures...))
}

func (r *Resolver) finish(req Request, artifact models.ReleaseArtifact) models.ReleaseArtifact {
	r.cache.Put(req, artifact)
	logrus.WithFields(logrus.Fields{
		"repo":    req.Reference.Slug(),
		"tier":    artifact.Tier,
		"version": artifact.VersionID,
		"cached":  r.cache.Len(),
	}).Debug("Resolved artifact")
	return artifact
}

// Forget drops every cached resolution for ref
func (r *Resolver) Forget(ref models.RepositoryReference) {
	r.cache.Invalidate(ref)
}

func tiersFrom(tiers []DiscoveryStrategy, start models.DiscoveryTier) []DiscoveryStrategy {
	for i, s := range tiers {
		if s.Tier() == start {
			return tiers[i:]
		}
	}
	return tiers
}

func (r *Resolver) githubHeaders() map[string]string {
	h := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if r.opts.GitHubToken != "" {
		h["Authorization"] = "Bearer " + r.opts.GitHubToken
	}
	return h
}

func (r *Resolver) gitlabHeaders() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if r.opts.GitLabToken != "" {
		h["PRIVATE-TOKEN"] = r.opts.GitLabToken
	}
	return h
}

// webHeaders never carry tokens
func webHeaders() map[string]string {
	return map[string]string{"Accept": "text/html,application/xhtml+xml"}
}
