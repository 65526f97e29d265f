package resolver

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ralt/addonsync/internal/models"
	"github.com/ralt/addonsync/internal/transport"
)

// fetchPage GETs a human-facing page without API credentials
func (r *Resolver) fetchPage(ctx context.Context, pageURL string) (*transport.Response, *goquery.Document, error) {
	resp, err := r.transport.Get(ctx, pageURL, webHeaders(), r.opts.ScrapeTimeout)
	if f := checkResponse(models.TierWebScrape, resp, err); f != nil {
		return nil, nil, f
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fail(models.TierWebScrape, FailureNoMatch, "failed to parse %s: %v", resp.FinalURL, err)
	}
	return resp, doc, nil
}

// refAfter extracts the path segment following marker in rawURL
func refAfter(rawURL, marker string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := u.EscapedPath()
	i := strings.Index(path, marker)
	if i < 0 {
		return ""
	}
	rest := path[i+len(marker):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	unescaped, err := url.PathUnescape(rest)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(unescaped)
}

// firstLinkRef returns the ref of the first anchor whose href contains marker
func firstLinkRef(doc *goquery.Document, marker string) string {
	var ref string
	doc.Find(fmt.Sprintf(`a[href*=%q]`, marker)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if candidate := refAfter(absolute("https://placeholder.invalid", href), marker); candidate != "" {
			ref = candidate
			return false
		}
		return true
	})
	return ref
}

// pageAssets collects download links under marker from a page
func pageAssets(doc *goquery.Document, base, marker string) []asset {
	var assets []asset
	doc.Find(fmt.Sprintf(`a[href*=%q]`, marker)).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link := absolute(base, href)
		u, err := url.Parse(link)
		if err != nil {
			return
		}
		name := u.Path[strings.LastIndex(u.Path, "/")+1:]
		assets = append(assets, asset{name: name, url: link})
	})
	return assets
}

func absolute(base, href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.IsAbs() {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(u).String()
}

func placeholder(ref string) bool {
	return ref == "" || strings.EqualFold(ref, models.PlaceholderVersion)
}

// githubScrape reads the latest-release page of the web UI
type githubScrape struct{ r *Resolver }

func (s *githubScrape) Tier() models.DiscoveryTier { return models.TierWebScrape }

func (s *githubScrape) Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error) {
	const marker = "/releases/tag/"
	web := s.r.githubRepoWeb(req.Reference)

	resp, doc, err := s.r.fetchPage(ctx, web+"/releases/latest")
	if err != nil {
		return models.ReleaseArtifact{}, err
	}
	tag := refAfter(resp.FinalURL, marker)
	if placeholder(tag) {
		tag = firstLinkRef(doc, marker)
	}
	if placeholder(tag) {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailurePlaceholder, "no release tag found on %s", resp.FinalURL)
	}

	artifact := models.ReleaseArtifact{
		VersionID:   tag,
		DownloadURL: s.r.githubTagArchive(req.Reference, tag),
		Tier:        models.TierWebScrape,
	}

	// Release assets are rendered lazily from a separate fragment
	fragment := fmt.Sprintf("%s/releases/expanded_assets/%s", web, url.PathEscape(tag))
	if _, assetsDoc, err := s.r.fetchPage(ctx, fragment); err == nil {
		assets := pageAssets(assetsDoc, s.r.opts.Endpoints.GitHubWeb, "/releases/download/")
		if a, ok := pickAsset(assets, req.AssetName); ok {
			artifact.DownloadURL = a.url
			artifact.AssetName = a.name
		}
	}
	return artifact, nil
}

// gitlabScrape reads the latest-release permalink of the web UI, falling
// back to the tags page
type gitlabScrape struct{ r *Resolver }

func (s *gitlabScrape) Tier() models.DiscoveryTier { return models.TierWebScrape }

func (s *gitlabScrape) Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error) {
	const releaseMarker = "/-/releases/"
	const tagMarker = "/-/tags/"
	web := s.r.gitlabRepoWeb(req.Reference)

	var tag string
	var assets []asset
	resp, doc, err := s.r.fetchPage(ctx, web+"/-/releases/permalink/latest")
	if err == nil {
		tag = refAfter(resp.FinalURL, releaseMarker)
		if placeholder(tag) || tag == "permalink" {
			tag = firstLinkRef(doc, releaseMarker)
		}
		assets = pageAssets(doc, s.r.opts.Endpoints.GitLabWeb, "/downloads/")
	}
	if placeholder(tag) || tag == "permalink" {
		_, tagsDoc, terr := s.r.fetchPage(ctx, web+"/-/tags")
		if terr != nil {
			if err != nil {
				return models.ReleaseArtifact{}, err
			}
			return models.ReleaseArtifact{}, terr
		}
		tag = firstLinkRef(tagsDoc, tagMarker)
		assets = nil
	}
	if placeholder(tag) || tag == "permalink" {
		return models.ReleaseArtifact{}, fail(s.Tier(), FailurePlaceholder, "no release or tag found for %s", req.Reference.Slug())
	}

	artifact := models.ReleaseArtifact{
		VersionID:   tag,
		DownloadURL: s.r.gitlabArchive(req.Reference, tag),
		Tier:        models.TierWebScrape,
	}
	if a, ok := pickAsset(assets, req.AssetName); ok {
		artifact.DownloadURL = a.url
		artifact.AssetName = a.name
	}
	return artifact, nil
}
