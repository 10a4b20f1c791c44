package migration

import (
	"context"

	awsec2 "tasnim.dev/ebscrypt/internal/aws/ec2"
)

// Remote is the EC2 surface the migration drives. *ec2.Client implements it.
type Remote interface {
	DescribeInstance(ctx context.Context, instanceID string) (awsec2.Instance, error)
	ListAttachedVolumes(ctx context.Context, instanceID string) ([]awsec2.AttachedVolume, error)
	DescribeVolume(ctx context.Context, volumeID string) (awsec2.Volume, error)
	CreateSnapshot(ctx context.Context, volumeID, description string) (string, error)
	DeleteSnapshot(ctx context.Context, snapshotID string) error
	CreateVolume(ctx context.Context, p awsec2.CreateVolumeParams) (string, error)
	DeleteVolume(ctx context.Context, volumeID string) error
	DetachVolume(ctx context.Context, instanceID, device, volumeID string) error
	AttachVolume(ctx context.Context, instanceID, device, volumeID string) error
	TagResource(ctx context.Context, resourceID string, tags map[string]string) error
	StartInstance(ctx context.Context, instanceID string) error
	SetDeleteOnTermination(ctx context.Context, instanceID, device string, deleteOnTermination bool) error
}

// Waiter blocks until a remote resource settles. *waiter.Waiter implements it.
type Waiter interface {
	SnapshotCompleted(ctx context.Context, snapshotID string) error
	VolumeAvailable(ctx context.Context, volumeID string) error
}

// Key is the Migration Key applied to every replacement volume in a run.
// Ref is passed to CreateVolume as given; Arn, when known, is compared
// against the key reported on the replacement.
type Key struct {
	Ref string
	Arn string
}
