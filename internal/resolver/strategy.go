package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ralt/addonsync/internal/models"
	"github.com/ralt/addonsync/internal/transport"
)

// Request is the input of a single resolution
type Request struct {
	Reference models.RepositoryReference
	AssetName string
	Priority  models.DownloadPriority
}

// DiscoveryStrategy is one tier of the resolution chain
type DiscoveryStrategy interface {
	// Tier returns the tier this strategy reports on success
	Tier() models.DiscoveryTier

	// Attempt tries to resolve an artifact. Failures are *TierFailure.
	Attempt(ctx context.Context, req Request) (models.ReleaseArtifact, error)
}

// FailureKind classifies why a tier failed
type FailureKind int

const (
	// FailureNotFound is a confirmed absence (404, empty list)
	FailureNotFound FailureKind = iota
	// FailureRateLimited is HTTP 403/429 from the platform
	FailureRateLimited
	// FailureTransport is a network error, timeout, cancellation or 5xx
	FailureTransport
	// FailureNoMatch means data came back but nothing usable was in it
	FailureNoMatch
	// FailurePlaceholder means only the unresolved "latest" version was found
	FailurePlaceholder
)

// String returns the string representation of FailureKind
func (k FailureKind) String() string {
	switch k {
	case FailureNotFound:
		return "not-found"
	case FailureRateLimited:
		return "rate-limited"
	case FailureTransport:
		return "transport"
	case FailureNoMatch:
		return "no-match"
	case FailurePlaceholder:
		return "placeholder"
	default:
		return "unknown"
	}
}

// TierFailure is returned by a strategy that could not produce an artifact
type TierFailure struct {
	Tier models.DiscoveryTier
	Kind FailureKind
	Err  error
}

func (f *TierFailure) Error() string {
	return fmt.Sprintf("%s tier failed (%s): %v", f.Tier, f.Kind, f.Err)
}

// Unwrap returns the wrapped error
func (f *TierFailure) Unwrap() error {
	return f.Err
}

// triggersScrape reports whether a failure should invoke the web-scrape tier
func triggersScrape(err error) bool {
	var f *TierFailure
	if !errors.As(err, &f) {
		return true
	}
	return f.Kind == FailureRateLimited || f.Kind == FailureTransport
}

func fail(tier models.DiscoveryTier, kind FailureKind, format string, args ...interface{}) *TierFailure {
	return &TierFailure{Tier: tier, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// checkResponse maps a transport outcome onto a TierFailure, or nil for 200
func checkResponse(tier models.DiscoveryTier, resp *transport.Response, err error) *TierFailure {
	if err != nil {
		return &TierFailure{Tier: tier, Kind: FailureTransport, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fail(tier, FailureNotFound, "%s returned 404", resp.FinalURL)
	case transport.IsRateLimited(resp):
		return &TierFailure{
			Tier: tier,
			Kind: FailureRateLimited,
			Err: models.NewError(models.ErrRateLimited, "",
				fmt.Errorf("%s returned %d", resp.FinalURL, resp.StatusCode)),
		}
	case resp.StatusCode >= 500:
		return fail(tier, FailureTransport, "%s returned %d", resp.FinalURL, resp.StatusCode)
	default:
		return fail(tier, FailureNoMatch, "%s returned %d", resp.FinalURL, resp.StatusCode)
	}
}

func decodeJSON(tier models.DiscoveryTier, resp *transport.Response, v interface{}) *TierFailure {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fail(tier, FailureNoMatch, "failed to decode %s: %v", resp.FinalURL, err)
	}
	return nil
}

// fetchJSON performs a metadata GET and decodes a 200 body into v
func (r *Resolver) fetchJSON(ctx context.Context, tier models.DiscoveryTier, url string, headers map[string]string, v interface{}) error {
	resp, err := r.transport.Get(ctx, url, headers, r.opts.MetadataTimeout)
	if f := checkResponse(tier, resp, err); f != nil {
		return f
	}
	if f := decodeJSON(tier, resp, v); f != nil {
		return f
	}
	return nil
}
