package publish

import (
	"context"
	"fmt"

	"amber-go/internal/config"
)

// NewTargetFromConfig creates a Target implementation based on the publish config type.
func NewTargetFromConfig(ctx context.Context, cfg config.PublishConfig) (Target, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryTarget(), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 publish target requires s3_bucket to be set")
		}
		return NewS3Target(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem publish target requires fs_root to be set")
		}
		return NewFileSystemTarget(cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown publish type: %s", cfg.Type)
	}
}
