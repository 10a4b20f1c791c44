package kms

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// ErrKeyUnusable is returned when a key exists but cannot encrypt volumes.
var ErrKeyUnusable = errors.New("kms key cannot be used for volume encryption")

type KMSAPI interface {
	DescribeKey(ctx context.Context, params *awskms.DescribeKeyInput, optFns ...func(*awskms.Options)) (*awskms.DescribeKeyOutput, error)
}

type Client struct {
	api KMSAPI
}

func NewClient(api KMSAPI) *Client {
	return &Client{api: api}
}

// DescribeKey resolves a key id, key ARN, alias name or alias ARN.
func (c *Client) DescribeKey(ctx context.Context, ref string) (Key, error) {
	out, err := c.api.DescribeKey(ctx, &awskms.DescribeKeyInput{KeyId: aws.String(ref)})
	if err != nil {
		return Key{}, fmt.Errorf("DescribeKey: %w", err)
	}
	if out.KeyMetadata == nil {
		return Key{}, fmt.Errorf("DescribeKey: no metadata for %s", ref)
	}

	md := out.KeyMetadata
	return Key{
		KeyID:   aws.ToString(md.KeyId),
		Arn:     aws.ToString(md.Arn),
		State:   string(md.KeyState),
		Usage:   string(md.KeyUsage),
		Manager: string(md.KeyManager),
		Enabled: md.Enabled,
	}, nil
}

// ValidateKey resolves ref and checks the key is an enabled symmetric
// encryption key.
func (c *Client) ValidateKey(ctx context.Context, ref string) (Key, error) {
	key, err := c.DescribeKey(ctx, ref)
	if err != nil {
		return Key{}, err
	}
	if !key.Enabled || key.State != string(types.KeyStateEnabled) {
		return key, fmt.Errorf("%w: %s is in state %s", ErrKeyUnusable, ref, key.State)
	}
	if key.Usage != "" && key.Usage != string(types.KeyUsageTypeEncryptDecrypt) {
		return key, fmt.Errorf("%w: %s has usage %s", ErrKeyUnusable, ref, key.Usage)
	}
	return key, nil
}
