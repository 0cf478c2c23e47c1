package edge

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/coachcall/edge/pkg/avatar"
)

// buildS3AvatarStore builds the s3 avatar store from the ambient AWS
// configuration (environment, shared config, or instance role).
func (a *App) buildS3AvatarStore() (avatar.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("edge: loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return avatar.NewS3Store(
		client,
		a.cfg.Avatar.S3Bucket,
		a.cfg.Avatar.S3Prefix,
		a.cfg.Avatar.BaseURL,
		a.cfg.Avatar.MaxSizeBytes,
	), nil
}
