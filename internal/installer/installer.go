// Package installer materializes resolved release archives into the addon
// installation root.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ralt/addonsync/internal/archive"
	"github.com/ralt/addonsync/internal/manifest"
	"github.com/ralt/addonsync/internal/models"
	"github.com/ralt/addonsync/internal/transport"
	"github.com/ralt/addonsync/internal/utils"
)

// Config holds the materializer settings
type Config struct {
	InstallRoot     string
	ScratchDir      string
	DownloadTimeout time.Duration
}

// Options are the per-install choices
type Options struct {
	CustomFolderName    string
	AssetNamePreference string
	DownloadPriority    models.DownloadPriority

	// Existing is the package being updated; its identity and settings are
	// kept and its folders that the new archive no longer ships are removed.
	Existing *models.ManagedPackage
}

// Materializer downloads, extracts and installs release archives
type Materializer struct {
	transport transport.Transport
	cfg       Config
	locks     *folderLocks
	now       func() time.Time
}

// New creates a materializer
func New(t transport.Transport, cfg Config) *Materializer {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = filepath.Join(os.TempDir(), "addonsync")
	}
	return &Materializer{
		transport: t,
		cfg:       cfg,
		locks:     newFolderLocks(),
		now:       time.Now,
	}
}

// plannedFolder is an addon folder found in the archive and the name it
// will be installed under
type plannedFolder struct {
	src  string
	name string
}

// scratchPaths are the temporary locations of one install
type scratchPaths struct {
	download string
	extract  string
	backup   string
}

func (s scratchPaths) remove() {
	for _, p := range []string{s.download, s.extract, s.backup} {
		if err := os.RemoveAll(p); err != nil {
			logrus.Warnf("Failed to remove scratch path %s: %v", p, err)
		}
	}
}

// Install downloads artifact, installs every addon folder it contains and
// returns the resulting package. Scratch state is removed whether or not the
// install succeeds.
func (m *Materializer) Install(ctx context.Context, ref models.RepositoryReference, artifact models.ReleaseArtifact, opts Options) (*models.ManagedPackage, error) {
	if m.cfg.InstallRoot == "" {
		return nil, models.NewError(models.ErrConfigurationMissing, ref.String(), errors.New("installation root is not configured"))
	}
	if err := artifact.Validate(); err != nil {
		return nil, models.NewError(models.ErrDownloadFailed, ref.String(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.ErrDownloadFailed, ref.String(), err)
	}

	log := logrus.WithFields(logrus.Fields{
		"reference": ref.Slug(),
		"version":   artifact.VersionID,
		"tier":      artifact.Tier.String(),
	})

	stem := scratchName(ref.Platform.String(), ref.Owner, ref.Name, artifact.VersionID)
	scratch := scratchPaths{
		download: filepath.Join(m.cfg.ScratchDir, stem+".download"),
		extract:  filepath.Join(m.cfg.ScratchDir, stem+".extract"),
		backup:   filepath.Join(m.cfg.ScratchDir, stem+".backup"),
	}

	unlockScratch := m.locks.lock("scratch:" + stem)
	defer unlockScratch()

	// Leftovers from an interrupted run share the same names
	scratch.remove()
	defer scratch.remove()

	if err := utils.EnsureDir(m.cfg.ScratchDir); err != nil {
		return nil, models.NewError(models.ErrDownloadFailed, ref.String(), fmt.Errorf("failed to create scratch dir: %w", err))
	}

	log.Infof("Downloading %s", artifact.DownloadURL)
	sum, err := m.download(ctx, artifact.DownloadURL, scratch.download)
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) {
			return nil, models.NewError(models.ErrTransport, ref.String(), err)
		}
		return nil, models.NewError(models.ErrDownloadFailed, ref.String(), err)
	}

	if err := archive.Extract(scratch.download, scratch.extract); err != nil {
		return nil, models.NewError(models.ErrExtractFailed, ref.String(), err)
	}

	customName := opts.CustomFolderName
	if customName == "" && opts.Existing != nil {
		customName = opts.Existing.CustomFolderName
	}
	plan, err := m.plan(scratch.extract, ref, artifact.VersionID, customName)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(plan))
	for i, p := range plan {
		names[i] = p.name
	}

	var stale []string
	if opts.Existing != nil {
		stale = staleFolders(opts.Existing.InstalledFolderNames, names)
	}

	unlock := m.locks.lock(append(append([]string{}, names...), stale...)...)
	defer unlock()

	if err := m.apply(plan, scratch.backup); err != nil {
		return nil, models.NewError(models.ErrFilesystemConflict, ref.String(), err)
	}
	log.Infof("Installed folders %v", names)

	for _, name := range stale {
		log.Infof("Removing folder %s no longer shipped by %s", name, ref.Slug())
		if err := os.RemoveAll(filepath.Join(m.cfg.InstallRoot, name)); err != nil {
			log.Warnf("Failed to remove stale folder %s: %v", name, err)
		}
	}

	manifests := make([]installedManifest, len(names))
	for i, name := range names {
		meta, found := readFolderManifest(filepath.Join(m.cfg.InstallRoot, name))
		manifests[i] = installedManifest{folder: name, meta: meta, found: found}
	}
	primary := selectPrimary(manifests, ref)
	names = promote(names, primary)

	displayName := ref.Name
	if primary >= 0 && manifests[primary].meta.Title != models.Unknown {
		displayName = manifests[primary].meta.Title
	}

	return m.buildPackage(ref, artifact, opts, customName, displayName, names, sum), nil
}

func (m *Materializer) download(ctx context.Context, url, dst string) (*utils.Checksum, error) {
	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to create download file: %w", err)
	}
	defer f.Close()

	hw := utils.NewHashingWriter(f)
	if _, err := m.transport.Download(ctx, url, hw, m.cfg.DownloadTimeout); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	return hw.Checksum(), nil
}

// plan discovers the addon folders under root and chooses their names
func (m *Materializer) plan(root string, ref models.RepositoryReference, versionID, custom string) ([]plannedFolder, error) {
	var found []string
	for rel := range AddonFolders(root) {
		found = append(found, rel)
	}
	if len(found) == 0 {
		return nil, models.NewError(models.ErrNoManifestFound, ref.String(), errors.New("archive contains no addon manifest"))
	}

	plan := make([]plannedFolder, 0, len(found))
	seen := make(map[string]string, len(found))
	for _, rel := range found {
		src := filepath.Join(root, rel)
		manifests, err := manifest.List(src)
		if err != nil {
			return nil, models.NewError(models.ErrExtractFailed, ref.String(), err)
		}

		physical := filepath.Base(rel)
		if rel == "." {
			physical = ref.Name
		}
		name := chooseFolderName(physical, manifests, ref.Name, versionID, custom, len(found) == 1)
		if !validFolderName(name) {
			return nil, models.NewError(models.ErrFilesystemConflict, ref.String(), fmt.Errorf("invalid folder name %q", name))
		}
		if prev, dup := seen[name]; dup {
			return nil, models.NewError(models.ErrFilesystemConflict, ref.String(),
				fmt.Errorf("folders %s and %s both install as %s", prev, rel, name))
		}
		seen[name] = rel

		logrus.Debugf("Addon folder %s installs as %s", rel, name)
		plan = append(plan, plannedFolder{src: src, name: name})
	}
	return plan, nil
}

// apply replaces each destination folder with its planned source. Replaced
// folders are moved into backupDir first; on any failure every change is
// undone.
func (m *Materializer) apply(plan []plannedFolder, backupDir string) error {
	if err := utils.EnsureDir(m.cfg.InstallRoot); err != nil {
		return fmt.Errorf("failed to create installation root: %w", err)
	}

	var installed, backedUp []string
	rollback := func() {
		for _, name := range installed {
			if err := os.RemoveAll(filepath.Join(m.cfg.InstallRoot, name)); err != nil {
				logrus.Warnf("Rollback: failed to remove %s: %v", name, err)
			}
		}
		for _, name := range backedUp {
			if err := utils.MoveDir(filepath.Join(backupDir, name), filepath.Join(m.cfg.InstallRoot, name)); err != nil {
				logrus.Warnf("Rollback: failed to restore %s: %v", name, err)
			}
		}
	}

	for _, p := range plan {
		dest := filepath.Join(m.cfg.InstallRoot, p.name)

		if info, err := os.Lstat(dest); err == nil {
			if !info.IsDir() {
				rollback()
				return fmt.Errorf("%s exists and is not a directory", dest)
			}
			if err := utils.MoveDir(dest, filepath.Join(backupDir, p.name)); err != nil {
				rollback()
				return fmt.Errorf("failed to move aside %s: %w", dest, err)
			}
			backedUp = append(backedUp, p.name)
		} else if !os.IsNotExist(err) {
			rollback()
			return err
		}

		installed = append(installed, p.name)
		if err := utils.CopyTree(p.src, dest); err != nil {
			rollback()
			return err
		}
	}
	return nil
}

func (m *Materializer) buildPackage(ref models.RepositoryReference, artifact models.ReleaseArtifact, opts Options, customName, displayName string, folders []string, sum *utils.Checksum) *models.ManagedPackage {
	var pkg models.ManagedPackage
	if opts.Existing != nil {
		pkg = *opts.Existing
	} else {
		pkg = models.ManagedPackage{
			ID:                  uuid.NewString(),
			AllowUpdates:        true,
			AssetNamePreference: opts.AssetNamePreference,
			DownloadPriority:    opts.DownloadPriority,
		}
	}

	now := m.now().UTC()
	pkg.Reference = ref
	pkg.DisplayName = displayName
	pkg.CurrentVersionID = artifact.VersionID
	pkg.LatestVersionID = artifact.VersionID
	pkg.InstalledFolderNames = folders
	pkg.CustomFolderName = customName
	pkg.DiscoveryTier = artifact.Tier.String()
	pkg.ArchiveSHA256 = sum.SHA256
	pkg.SizeBytes = sum.Size
	pkg.InstalledAt = &now
	pkg.LastCheckedAt = &now
	return &pkg
}

func staleFolders(previous, current []string) []string {
	keep := make(map[string]bool, len(current))
	for _, name := range current {
		keep[name] = true
	}
	var stale []string
	for _, name := range previous {
		if !keep[name] && validFolderName(name) {
			stale = append(stale, name)
		}
	}
	return stale
}
