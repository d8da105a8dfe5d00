package config

// VFSConfig selects and configures the kernel's virtual filesystem
// backend: "memory" (internal/vfs.Memory, the default — scoped to one
// run), "fs" (an on-disk directory watched with fsnotify), or "s3" (an S3
// bucket, reusing the teacher's artifact-storage S3 field set since both
// are just a bucket/region/endpoint/credentials tuple).
type VFSConfig struct {
	Backend string `yaml:"backend"`

	// Root is the watched directory for the fs backend.
	Root string `yaml:"root"`

	S3Bucket          string `yaml:"s3_bucket"`
	S3Region          string `yaml:"s3_region"`
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3Prefix          string `yaml:"s3_prefix"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
}

func applyVFSDefaults(cfg *VFSConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
}
