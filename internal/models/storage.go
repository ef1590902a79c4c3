package models

// Storage drivers.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// StorageTemplate is a storage configuration, either defined centrally under
// a name in Config.Storages or written inline on a job.
type StorageTemplate struct {
	Driver string

	// Local fields.
	Path string

	// S3 fields.
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string // custom endpoint for S3-compatible services
	AccessKeyID     string
	SecretAccessKey string

	// FilenamePrefix is prepended to every artifact filename.
	FilenamePrefix string
}

// StorageSelection is a job's choice of storage: either an inline template,
// or a reference to a named template plus optional overrides. Exactly one of
// Inline and Ref is set.
type StorageSelection struct {
	Inline *StorageTemplate

	Ref string
	// Prefix, when set on a reference, replaces the template's key prefix.
	Prefix string
	// FilenamePrefix, when set on a reference, replaces the template's
	// filename prefix.
	FilenamePrefix string
}

// ResolvedStorage is a storage configuration after reference lookup and
// override application. Consumers validate the fields relevant to Driver.
type ResolvedStorage struct {
	Driver string

	Path string

	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string

	FilenamePrefix string
}
