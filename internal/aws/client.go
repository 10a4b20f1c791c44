package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	awsec2 "tasnim.dev/ebscrypt/internal/aws/ec2"
	awskms "tasnim.dev/ebscrypt/internal/aws/kms"
)

type ServiceClient struct {
	Region string
	EC2    *awsec2.Client
	KMS    *awskms.Client
	STS    STSAPI
}

func NewServiceClient(ctx context.Context, profile, region string) (*ServiceClient, error) {
	cfg, err := LoadConfig(ctx, profile, region)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("no AWS region configured")
	}

	return &ServiceClient{
		Region: cfg.Region,
		EC2:    awsec2.NewClient(ec2.NewFromConfig(cfg)),
		KMS:    awskms.NewClient(kms.NewFromConfig(cfg)),
		STS:    sts.NewFromConfig(cfg),
	}, nil
}
