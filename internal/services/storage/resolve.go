package storage

import (
	"errors"
	"fmt"

	"github.com/dbkeeper/dbkeeper/internal/models"
)

// Resolution errors.
var (
	// ErrMissingStorageConfig is returned for a job with no storage
	// selection at all.
	ErrMissingStorageConfig = errors.New("job has no storage configuration")
	// ErrNoTemplatesDefined is returned for a storage reference when the
	// configuration declares no storage templates.
	ErrNoTemplatesDefined = errors.New("no storage templates defined")
	// ErrStorageNotFound is returned for a reference to an unknown template.
	ErrStorageNotFound = errors.New("storage template not found")
)

// Resolve turns a job's storage selection plus the centrally defined
// templates into one concrete storage configuration. Pure transform: no
// side effects, same inputs always yield the same result.
func Resolve(job models.Job, templates map[string]models.StorageTemplate) (models.ResolvedStorage, error) {
	sel := job.Storage
	if sel == nil {
		return models.ResolvedStorage{}, fmt.Errorf("job %q: %w", job.Name, ErrMissingStorageConfig)
	}

	if sel.Inline != nil {
		return resolvedFrom(*sel.Inline), nil
	}

	if sel.Ref == "" {
		return models.ResolvedStorage{}, fmt.Errorf("job %q: %w", job.Name, ErrMissingStorageConfig)
	}
	if len(templates) == 0 {
		return models.ResolvedStorage{}, fmt.Errorf("job %q references storage %q: %w", job.Name, sel.Ref, ErrNoTemplatesDefined)
	}

	tmpl, ok := templates[sel.Ref]
	if !ok {
		return models.ResolvedStorage{}, fmt.Errorf("job %q references storage %q: %w", job.Name, sel.Ref, ErrStorageNotFound)
	}

	resolved := resolvedFrom(tmpl)
	if sel.Prefix != "" {
		resolved.Prefix = sel.Prefix
	}
	if sel.FilenamePrefix != "" {
		resolved.FilenamePrefix = sel.FilenamePrefix
	}

	return resolved, nil
}

func resolvedFrom(tmpl models.StorageTemplate) models.ResolvedStorage {
	return models.ResolvedStorage{
		Driver:          tmpl.Driver,
		Path:            tmpl.Path,
		Bucket:          tmpl.Bucket,
		Region:          tmpl.Region,
		Prefix:          tmpl.Prefix,
		Endpoint:        tmpl.Endpoint,
		AccessKeyID:     tmpl.AccessKeyID,
		SecretAccessKey: tmpl.SecretAccessKey,
		FilenamePrefix:  tmpl.FilenamePrefix,
	}
}
