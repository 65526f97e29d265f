package scanner

import (
	"context"

	"github.com/ralt/addonsync/internal/models"
)

// Scanner discovers addons already present in an installation root
type Scanner interface {
	// Scan lists the addons directly under root, one entry per folder
	Scan(ctx context.Context, root string) ([]models.ExistingEntry, error)
}
