package ec2

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

type EC2API interface {
	DescribeInstances(ctx context.Context, params *awsec2.DescribeInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
	DescribeVolumes(ctx context.Context, params *awsec2.DescribeVolumesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeVolumesOutput, error)
	DescribeSnapshots(ctx context.Context, params *awsec2.DescribeSnapshotsInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeSnapshotsOutput, error)
	CreateSnapshot(ctx context.Context, params *awsec2.CreateSnapshotInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateSnapshotOutput, error)
	DeleteSnapshot(ctx context.Context, params *awsec2.DeleteSnapshotInput, optFns ...func(*awsec2.Options)) (*awsec2.DeleteSnapshotOutput, error)
	CreateVolume(ctx context.Context, params *awsec2.CreateVolumeInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateVolumeOutput, error)
	DeleteVolume(ctx context.Context, params *awsec2.DeleteVolumeInput, optFns ...func(*awsec2.Options)) (*awsec2.DeleteVolumeOutput, error)
	AttachVolume(ctx context.Context, params *awsec2.AttachVolumeInput, optFns ...func(*awsec2.Options)) (*awsec2.AttachVolumeOutput, error)
	DetachVolume(ctx context.Context, params *awsec2.DetachVolumeInput, optFns ...func(*awsec2.Options)) (*awsec2.DetachVolumeOutput, error)
	CreateTags(ctx context.Context, params *awsec2.CreateTagsInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateTagsOutput, error)
	StartInstances(ctx context.Context, params *awsec2.StartInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.StartInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *awsec2.ModifyInstanceAttributeInput, optFns ...func(*awsec2.Options)) (*awsec2.ModifyInstanceAttributeOutput, error)
}

type Client struct {
	api EC2API
}

func NewClient(api EC2API) *Client {
	return &Client{api: api}
}

// DescribeInstance fetches a fresh view of one instance.
func (c *Client) DescribeInstance(ctx context.Context, instanceID string) (Instance, error) {
	out, err := c.api.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return Instance{}, wrap("DescribeInstances", err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) == instanceID {
				return toInstance(inst), nil
			}
		}
	}
	return Instance{}, fmt.Errorf("DescribeInstances: instance %s: %w", instanceID, ErrNotFound)
}

// ListAttachedVolumes returns the instance's block device mappings in
// mapping order, each joined with a fresh description of its EBS volume.
func (c *Client) ListAttachedVolumes(ctx context.Context, instanceID string) ([]AttachedVolume, error) {
	inst, err := c.DescribeInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, dev := range inst.Devices {
		if dev.IsEBS() {
			ids = append(ids, dev.VolumeID)
		}
	}

	volumes, err := c.DescribeVolumes(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Volume, len(volumes))
	for _, v := range volumes {
		byID[v.VolumeID] = v
	}

	attached := make([]AttachedVolume, 0, len(inst.Devices))
	for _, dev := range inst.Devices {
		av := AttachedVolume{Device: dev.DeviceName, VolumeID: dev.VolumeID, DeleteOnTermination: dev.DeleteOnTermination}
		if v, ok := byID[dev.VolumeID]; ok {
			av.Volume = &v
		}
		attached = append(attached, av)
	}
	return attached, nil
}

// DescribeVolumes fetches the given volumes. An empty id list returns no volumes
// without calling the API.
func (c *Client) DescribeVolumes(ctx context.Context, volumeIDs []string) ([]Volume, error) {
	if len(volumeIDs) == 0 {
		return nil, nil
	}

	var volumes []Volume
	var nextToken *string
	for {
		out, err := c.api.DescribeVolumes(ctx, &awsec2.DescribeVolumesInput{
			VolumeIds: volumeIDs,
			NextToken: nextToken,
		})
		if err != nil {
			return nil, wrap("DescribeVolumes", err)
		}
		for _, v := range out.Volumes {
			volumes = append(volumes, toVolume(v))
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return volumes, nil
}

// DescribeVolume fetches a fresh view of a single volume.
func (c *Client) DescribeVolume(ctx context.Context, volumeID string) (Volume, error) {
	volumes, err := c.DescribeVolumes(ctx, []string{volumeID})
	if err != nil {
		return Volume{}, err
	}
	if len(volumes) == 0 {
		return Volume{}, fmt.Errorf("DescribeVolumes: volume %s: %w", volumeID, ErrNotFound)
	}
	return volumes[0], nil
}

func (c *Client) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	out, err := c.api.CreateSnapshot(ctx, &awsec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
	})
	if err != nil {
		return "", wrap("CreateSnapshot", err)
	}
	return aws.ToString(out.SnapshotId), nil
}

func (c *Client) DescribeSnapshot(ctx context.Context, snapshotID string) (Snapshot, error) {
	out, err := c.api.DescribeSnapshots(ctx, &awsec2.DescribeSnapshotsInput{
		SnapshotIds: []string{snapshotID},
	})
	if err != nil {
		return Snapshot{}, wrap("DescribeSnapshots", err)
	}
	if len(out.Snapshots) == 0 {
		return Snapshot{}, fmt.Errorf("DescribeSnapshots: snapshot %s: %w", snapshotID, ErrNotFound)
	}

	s := out.Snapshots[0]
	return Snapshot{
		SnapshotID: aws.ToString(s.SnapshotId),
		VolumeID:   aws.ToString(s.VolumeId),
		State:      string(s.State),
		Progress:   aws.ToString(s.Progress),
		Message:    aws.ToString(s.StateMessage),
	}, nil
}

func (c *Client) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	if _, err := c.api.DeleteSnapshot(ctx, &awsec2.DeleteSnapshotInput{SnapshotId: aws.String(snapshotID)}); err != nil {
		return wrap("DeleteSnapshot", err)
	}
	return nil
}

// CreateVolume creates a volume from a snapshot and returns its id.
func (c *Client) CreateVolume(ctx context.Context, p CreateVolumeParams) (string, error) {
	in := &awsec2.CreateVolumeInput{
		SnapshotId:       aws.String(p.SnapshotID),
		AvailabilityZone: aws.String(p.AZ),
		VolumeType:       types.VolumeType(p.VolumeType),
		Encrypted:        aws.Bool(p.Encrypted),
	}
	if p.KmsKeyID != "" {
		in.KmsKeyId = aws.String(p.KmsKeyID)
	}
	if p.Iops > 0 {
		in.Iops = aws.Int32(p.Iops)
	}

	out, err := c.api.CreateVolume(ctx, in)
	if err != nil {
		return "", wrap("CreateVolume", err)
	}
	return aws.ToString(out.VolumeId), nil
}

func (c *Client) DeleteVolume(ctx context.Context, volumeID string) error {
	if _, err := c.api.DeleteVolume(ctx, &awsec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)}); err != nil {
		return wrap("DeleteVolume", err)
	}
	return nil
}

func (c *Client) DetachVolume(ctx context.Context, instanceID, device, volumeID string) error {
	_, err := c.api.DetachVolume(ctx, &awsec2.DetachVolumeInput{
		InstanceId: aws.String(instanceID),
		Device:     aws.String(device),
		VolumeId:   aws.String(volumeID),
	})
	if err != nil {
		return wrap("DetachVolume", err)
	}
	return nil
}

func (c *Client) AttachVolume(ctx context.Context, instanceID, device, volumeID string) error {
	_, err := c.api.AttachVolume(ctx, &awsec2.AttachVolumeInput{
		InstanceId: aws.String(instanceID),
		Device:     aws.String(device),
		VolumeId:   aws.String(volumeID),
	})
	if err != nil {
		return wrap("AttachVolume", err)
	}
	return nil
}

// TagResource adds or overwrites tags on any EC2 resource. A nil or empty
// tag set is a no-op.
func (c *Client) TagResource(ctx context.Context, resourceID string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}

	_, err := c.api.CreateTags(ctx, &awsec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      fromTagMap(tags),
	})
	if err != nil {
		return wrap("CreateTags", err)
	}
	return nil
}

func (c *Client) StartInstance(ctx context.Context, instanceID string) error {
	if _, err := c.api.StartInstances(ctx, &awsec2.StartInstancesInput{InstanceIds: []string{instanceID}}); err != nil {
		return wrap("StartInstances", err)
	}
	return nil
}

// SetDeleteOnTermination updates the DeleteOnTermination flag of the
// instance's mapping for device.
func (c *Client) SetDeleteOnTermination(ctx context.Context, instanceID, device string, deleteOnTermination bool) error {
	_, err := c.api.ModifyInstanceAttribute(ctx, &awsec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		BlockDeviceMappings: []types.InstanceBlockDeviceMappingSpecification{{
			DeviceName: aws.String(device),
			Ebs: &types.EbsInstanceBlockDeviceSpecification{
				DeleteOnTermination: aws.Bool(deleteOnTermination),
			},
		}},
	})
	if err != nil {
		return wrap("ModifyInstanceAttribute", err)
	}
	return nil
}

func toInstance(inst types.Instance) Instance {
	out := Instance{
		InstanceID:     aws.ToString(inst.InstanceId),
		Type:           string(inst.InstanceType),
		RootDeviceType: string(inst.RootDeviceType),
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	if inst.Placement != nil {
		out.AZ = aws.ToString(inst.Placement.AvailabilityZone)
	}
	for _, bdm := range inst.BlockDeviceMappings {
		dev := BlockDevice{DeviceName: aws.ToString(bdm.DeviceName)}
		if bdm.Ebs != nil {
			dev.VolumeID = aws.ToString(bdm.Ebs.VolumeId)
			dev.DeleteOnTermination = aws.ToBool(bdm.Ebs.DeleteOnTermination)
		}
		out.Devices = append(out.Devices, dev)
	}
	return out
}

func toVolume(v types.Volume) Volume {
	out := Volume{
		VolumeID:   aws.ToString(v.VolumeId),
		Size:       aws.ToInt32(v.Size),
		VolumeType: string(v.VolumeType),
		State:      string(v.State),
		Encrypted:  aws.ToBool(v.Encrypted),
		KmsKeyID:   aws.ToString(v.KmsKeyId),
		AZ:         aws.ToString(v.AvailabilityZone),
		Iops:       aws.ToInt32(v.Iops),
		Tags:       toTagMap(v.Tags),
	}
	for _, a := range v.Attachments {
		out.Attachments = append(out.Attachments, VolumeAttachment{
			InstanceID:          aws.ToString(a.InstanceId),
			Device:              aws.ToString(a.Device),
			State:               string(a.State),
			DeleteOnTermination: aws.ToBool(a.DeleteOnTermination),
		})
	}
	return out
}

func toTagMap(tags []types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return m
}

func fromTagMap(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}
