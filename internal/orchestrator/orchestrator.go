// Package orchestrator sequences resolution, reconciliation and
// installation for each user action and keeps the registry current.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ralt/addonsync/internal/installer"
	"github.com/ralt/addonsync/internal/models"
	"github.com/ralt/addonsync/internal/registry"
	"github.com/ralt/addonsync/internal/scanner"
	"github.com/ralt/addonsync/internal/version"
)

// Resolver finds the latest artifact for a reference
type Resolver interface {
	Resolve(ctx context.Context, ref models.RepositoryReference, assetName string, priority models.DownloadPriority) (models.ReleaseArtifact, error)
	// Forget discards cached resolutions for ref
	Forget(ref models.RepositoryReference)
}

// Installer materializes an artifact into the installation root
type Installer interface {
	Install(ctx context.Context, ref models.RepositoryReference, artifact models.ReleaseArtifact, opts installer.Options) (*models.ManagedPackage, error)
}

// Options configures an Orchestrator
type Options struct {
	InstallRoot string
	// Concurrency bounds parallel resolutions in CheckAll
	Concurrency int
}

// Orchestrator runs user actions against the managed packages
type Orchestrator struct {
	resolver  Resolver
	installer Installer
	scanner   scanner.Scanner
	registry  *registry.Registry
	opts      Options
	now       func() time.Time
}

// New creates an orchestrator
func New(res Resolver, inst Installer, sc scanner.Scanner, reg *registry.Registry, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		resolver:  res,
		installer: inst,
		scanner:   sc,
		registry:  reg,
		opts:      opts,
		now:       time.Now,
	}
}

func (o *Orchestrator) requireRoot() error {
	if o.opts.InstallRoot == "" {
		return models.NewError(models.ErrConfigurationMissing, "", errors.New("installation root is not configured"))
	}
	return nil
}

// find looks a package up by id, name, folder or URL
func (o *Orchestrator) find(query string) (models.ManagedPackage, error) {
	pkg, ok := o.registry.Find(query)
	if !ok {
		return pkg, models.NewError(models.ErrNotFound, query, errors.New("no managed package matches"))
	}
	return pkg, nil
}

// AddRequest describes a new package to install
type AddRequest struct {
	URL              string
	CustomFolderName string
	AssetName        string
	Priority         models.DownloadPriority
}

// Add resolves, installs and registers a repository
func (o *Orchestrator) Add(ctx context.Context, req AddRequest) (*models.ManagedPackage, error) {
	if err := o.requireRoot(); err != nil {
		return nil, err
	}
	ref, err := models.ParseReference(req.URL)
	if err != nil {
		return nil, err
	}
	if existing, ok := o.registry.FindByReference(ref); ok {
		return nil, models.NewError(models.ErrFilesystemConflict, ref.String(),
			fmt.Errorf("already managed as %s", existing.DisplayName))
	}

	artifact, err := o.resolver.Resolve(ctx, ref, req.AssetName, req.Priority)
	if err != nil {
		return nil, err
	}

	pkg, err := o.installer.Install(ctx, ref, artifact, installer.Options{
		CustomFolderName:    req.CustomFolderName,
		AssetNamePreference: req.AssetName,
		DownloadPriority:    req.Priority,
	})
	if err != nil {
		return nil, err
	}

	if err := o.registry.Upsert(ctx, *pkg); err != nil {
		return nil, err
	}
	logrus.Infof("Added %s %s", pkg.DisplayName, pkg.CurrentVersionID)
	return pkg, nil
}

// CheckResult is the outcome of checking one package
type CheckResult struct {
	Package         models.ManagedPackage
	Artifact        models.ReleaseArtifact
	UpdateAvailable bool
	Err             error
}

// resolveLatest resolves pkg and reconciles it against the installed version
func (o *Orchestrator) resolveLatest(ctx context.Context, pkg models.ManagedPackage) CheckResult {
	artifact, err := o.resolver.Resolve(ctx, pkg.Reference, pkg.AssetNamePreference, pkg.DownloadPriority)
	if err != nil {
		return CheckResult{Package: pkg, Err: err}
	}
	return CheckResult{
		Package:         pkg,
		Artifact:        artifact,
		UpdateAvailable: version.NeedsUpdate(pkg.CurrentVersionID, artifact.VersionID),
	}
}

// record stores the latest version seen for a checked package
func (o *Orchestrator) record(ctx context.Context, res *CheckResult) {
	if res.Err != nil {
		return
	}
	now := o.now().UTC()
	res.Package.LatestVersionID = res.Artifact.VersionID
	res.Package.LastCheckedAt = &now
	if err := o.registry.Upsert(ctx, res.Package); err != nil {
		res.Err = err
	}
}

// Check resolves the latest version of one package
func (o *Orchestrator) Check(ctx context.Context, query string) (CheckResult, error) {
	pkg, err := o.find(query)
	if err != nil {
		return CheckResult{}, err
	}
	res := o.resolveLatest(ctx, pkg)
	o.record(ctx, &res)
	return res, res.Err
}

// CheckAll checks every package. Resolutions run in parallel; a failure is
// recorded on its result and does not stop the batch.
func (o *Orchestrator) CheckAll(ctx context.Context) []CheckResult {
	packages := o.registry.List()
	results := make([]CheckResult, len(packages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i, pkg := range packages {
		g.Go(func() error {
			results[i] = o.resolveLatest(gctx, pkg)
			return nil
		})
	}
	_ = g.Wait()

	for i := range results {
		o.record(ctx, &results[i])
		if results[i].Err != nil {
			logrus.WithField("package", results[i].Package.DisplayName).Warnf("Check failed: %v", results[i].Err)
		}
	}
	return results
}

// UpdateResult is the outcome of updating one package
type UpdateResult struct {
	Package         models.ManagedPackage
	PreviousVersion string
	Updated         bool
	// Skipped explains why no update was attempted
	Skipped string
	Err     error
}

// Update installs the latest version of one package when it is newer.
// force reinstalls even when up to date or when updates are disabled.
func (o *Orchestrator) Update(ctx context.Context, query string, force bool) (UpdateResult, error) {
	if err := o.requireRoot(); err != nil {
		return UpdateResult{}, err
	}
	pkg, err := o.find(query)
	if err != nil {
		return UpdateResult{}, err
	}
	res := o.update(ctx, pkg, force)
	return res, res.Err
}

// UpdateAll updates every package that allows updates, one at a time
func (o *Orchestrator) UpdateAll(ctx context.Context) ([]UpdateResult, error) {
	if err := o.requireRoot(); err != nil {
		return nil, err
	}

	var results []UpdateResult
	for _, pkg := range o.registry.List() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := o.update(ctx, pkg, false)
		if res.Err != nil {
			logrus.WithField("package", pkg.DisplayName).Warnf("Update failed: %v", res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) update(ctx context.Context, pkg models.ManagedPackage, force bool) UpdateResult {
	result := UpdateResult{Package: pkg, PreviousVersion: pkg.CurrentVersionID}
	if !pkg.AllowUpdates && !force {
		result.Skipped = "updates disabled"
		return result
	}
	if force {
		o.resolver.Forget(pkg.Reference)
	}

	check := o.resolveLatest(ctx, pkg)
	o.record(ctx, &check)
	if check.Err != nil {
		result.Err = check.Err
		return result
	}
	result.Package = check.Package
	if !check.UpdateAvailable && !force {
		result.Skipped = "up to date"
		return result
	}

	log := logrus.WithFields(logrus.Fields{
		"package": pkg.DisplayName,
		"from":    pkg.CurrentVersionID,
		"to":      check.Artifact.VersionID,
	})
	log.Info("Updating")

	existing := check.Package
	updated, err := o.installer.Install(ctx, pkg.Reference, check.Artifact, installer.Options{Existing: &existing})
	if err != nil {
		result.Err = err
		return result
	}
	if err := o.registry.Upsert(ctx, *updated); err != nil {
		result.Err = err
		return result
	}

	result.Package = *updated
	result.Updated = true
	return result
}

// Scan lists unmanaged addons in the installation root, grouped into
// logical packages
func (o *Orchestrator) Scan(ctx context.Context) ([]models.ExistingEntry, error) {
	if err := o.requireRoot(); err != nil {
		return nil, err
	}
	entries, err := o.scanner.Scan(ctx, o.opts.InstallRoot)
	if err != nil {
		return nil, err
	}

	managed := o.registry.ManagedFolders()
	unmanaged := entries[:0]
	for _, e := range entries {
		if _, ok := managed[strings.ToLower(e.FolderName)]; !ok {
			unmanaged = append(unmanaged, e)
		}
	}
	return scanner.Group(unmanaged), nil
}

// Import starts managing an existing folder group. url overrides the
// repository suggested by the manifest.
func (o *Orchestrator) Import(ctx context.Context, folder, url string) (*models.ManagedPackage, error) {
	entries, err := o.Scan(ctx)
	if err != nil {
		return nil, err
	}

	var entry *models.ExistingEntry
	for i := range entries {
		for _, f := range entries[i].Folders() {
			if strings.EqualFold(f, folder) {
				entry = &entries[i]
			}
		}
	}
	if entry == nil {
		return nil, models.NewError(models.ErrNotFound, folder, errors.New("no unmanaged addon in that folder"))
	}

	var ref models.RepositoryReference
	switch {
	case url != "":
		if ref, err = models.ParseReference(url); err != nil {
			return nil, err
		}
	case len(entry.SuggestedReferences) > 0:
		ref = entry.SuggestedReferences[0]
	default:
		return nil, models.NewError(models.ErrInvalidReference, folder, errors.New("manifest names no repository; pass a URL"))
	}
	if existing, ok := o.registry.FindByReference(ref); ok {
		return nil, models.NewError(models.ErrFilesystemConflict, ref.String(),
			fmt.Errorf("already managed as %s", existing.DisplayName))
	}

	current := entry.Manifest.Version
	if current == models.Unknown {
		current = ""
	}
	now := o.now().UTC()
	pkg := models.ManagedPackage{
		ID:                   uuid.NewString(),
		DisplayName:          entry.DisplayTitle(),
		Reference:            ref,
		CurrentVersionID:     current,
		InstalledFolderNames: entry.Folders(),
		AllowUpdates:         true,
		DownloadPriority:     models.PreferReleases,
		Imported:             true,
		InstalledAt:          &now,
	}
	if err := o.registry.Upsert(ctx, pkg); err != nil {
		return nil, err
	}
	logrus.Infof("Imported %s from %s", pkg.DisplayName, ref)
	return &pkg, nil
}

// Remove deletes a package's folders and drops it from the registry.
// keepFiles only unregisters it.
func (o *Orchestrator) Remove(ctx context.Context, query string, keepFiles bool) (models.ManagedPackage, error) {
	pkg, err := o.find(query)
	if err != nil {
		return pkg, err
	}

	if !keepFiles {
		if err := o.requireRoot(); err != nil {
			return pkg, err
		}
		for _, folder := range pkg.InstalledFolderNames {
			if folder == "" || strings.ContainsAny(folder, `/\`) || folder == "." || folder == ".." {
				continue
			}
			path := filepath.Join(o.opts.InstallRoot, folder)
			logrus.Debugf("Removing %s", path)
			if err := os.RemoveAll(path); err != nil {
				return pkg, models.NewError(models.ErrFilesystemConflict, pkg.DisplayName, err)
			}
		}
	}

	o.resolver.Forget(pkg.Reference)
	return pkg, o.registry.Remove(ctx, pkg.ID)
}

// SetAllowUpdates toggles whether UpdateAll touches a package
func (o *Orchestrator) SetAllowUpdates(ctx context.Context, query string, allow bool) (models.ManagedPackage, error) {
	pkg, err := o.find(query)
	if err != nil {
		return pkg, err
	}
	pkg.AllowUpdates = allow
	return pkg, o.registry.Upsert(ctx, pkg)
}

// VerifyResult lists the installed folders of a package missing on disk
type VerifyResult struct {
	Package        models.ManagedPackage
	MissingFolders []string
}

// Verify reports packages whose folders no longer exist. Nothing is repaired.
func (o *Orchestrator) Verify(ctx context.Context) ([]VerifyResult, error) {
	if err := o.requireRoot(); err != nil {
		return nil, err
	}

	var results []VerifyResult
	for _, pkg := range o.registry.List() {
		var missing []string
		for _, folder := range pkg.InstalledFolderNames {
			info, err := os.Stat(filepath.Join(o.opts.InstallRoot, folder))
			if err != nil || !info.IsDir() {
				missing = append(missing, folder)
			}
		}
		if len(pkg.InstalledFolderNames) == 0 {
			missing = append(missing, "(no folders recorded)")
		}
		results = append(results, VerifyResult{Package: pkg, MissingFolders: missing})
	}
	return results, nil
}
