package models

import "time"

// Unknown is the value of any manifest field that was not declared
const Unknown = "Unknown"

// ManifestMetadata holds the directives parsed from an addon manifest
type ManifestMetadata struct {
	Title         string `json:"title"`
	Version       string `json:"version"`
	Author        string `json:"author"`
	Interface     string `json:"interface"`
	Notes         string `json:"notes"`
	WebsiteURL    string `json:"websiteUrl"`
	RepositoryURL string `json:"repositoryUrl"`
}

// NewManifestMetadata returns metadata with every field set to Unknown
func NewManifestMetadata() ManifestMetadata {
	return ManifestMetadata{
		Title:         Unknown,
		Version:       Unknown,
		Author:        Unknown,
		Interface:     Unknown,
		Notes:         Unknown,
		WebsiteURL:    Unknown,
		RepositoryURL: Unknown,
	}
}

// ManagedPackage is an installed addon tracked in the registry
type ManagedPackage struct {
	ID                   string              `json:"id"`
	DisplayName          string              `json:"displayName"`
	Reference            RepositoryReference `json:"reference"`
	CurrentVersionID     string              `json:"currentVersionId"`
	LatestVersionID      string              `json:"latestVersionId"`
	InstalledFolderNames []string            `json:"installedFolderNames"`
	AllowUpdates         bool                `json:"allowUpdates"`
	CustomFolderName     string              `json:"customFolderName,omitempty"`
	AssetNamePreference  string              `json:"assetNamePreference,omitempty"`
	DownloadPriority     DownloadPriority    `json:"downloadPriority"`
	Imported             bool                `json:"imported"`
	DiscoveryTier        string              `json:"discoveryTier,omitempty"`
	ArchiveSHA256        string              `json:"archiveSha256,omitempty"`
	SizeBytes            int64               `json:"sizeBytes,omitempty"`
	InstalledAt          *time.Time          `json:"installedAt,omitempty"`
	LastCheckedAt        *time.Time          `json:"lastCheckedAt,omitempty"`
}

// PrimaryFolder returns the canonical installed folder, or "" if none
func (p *ManagedPackage) PrimaryFolder() string {
	if len(p.InstalledFolderNames) == 0 {
		return ""
	}
	return p.InstalledFolderNames[0]
}

// ExistingEntry is an unmanaged addon discovered on disk
type ExistingEntry struct {
	FolderName          string
	RelatedFolders      []string
	Manifest            ManifestMetadata
	ModTime             time.Time
	IsGrouped           bool
	SuggestedReferences []RepositoryReference
}

// Folders returns every folder belonging to the entry
func (e ExistingEntry) Folders() []string {
	if e.IsGrouped && len(e.RelatedFolders) > 0 {
		return e.RelatedFolders
	}
	return []string{e.FolderName}
}

// DisplayTitle returns the manifest title, falling back to the folder name
func (e ExistingEntry) DisplayTitle() string {
	if e.Manifest.Title == "" || e.Manifest.Title == Unknown {
		return e.FolderName
	}
	return e.Manifest.Title
}
