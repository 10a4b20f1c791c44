package ec2

import "strings"

// Instance state names the migration cares about.
const (
	InstanceStateStopped = "stopped"
	InstanceStateRunning = "running"
)

// Volume and snapshot states observed while waiting.
const (
	VolumeStateAvailable = "available"
	VolumeStateInUse     = "in-use"
	VolumeStateError     = "error"

	SnapshotStateCompleted = "completed"
	SnapshotStateError     = "error"
)

// Instance is a point-in-time view of an EC2 instance.
type Instance struct {
	InstanceID     string
	Type           string
	State          string
	AZ             string
	RootDeviceType string
	Devices        []BlockDevice
}

// BlockDevice is one entry of an instance's block device mapping.
// VolumeID is empty for mappings not backed by an EBS volume.
type BlockDevice struct {
	DeviceName          string
	VolumeID            string
	DeleteOnTermination bool
}

// IsEBS reports whether the mapping is backed by a network volume.
func (d BlockDevice) IsEBS() bool {
	return d.VolumeID != ""
}

// Volume is a point-in-time view of an EBS volume.
type Volume struct {
	VolumeID    string
	Size        int32
	VolumeType  string
	State       string
	Encrypted   bool
	KmsKeyID    string
	AZ          string
	Iops        int32
	Tags        map[string]string
	Attachments []VolumeAttachment
}

// VolumeAttachment records where a volume is attached.
type VolumeAttachment struct {
	InstanceID          string
	Device              string
	State               string
	DeleteOnTermination bool
}

// AttachedVolume pairs a block device mapping with the volume behind it.
// VolumeID comes from the mapping and is empty for non-EBS devices. Volume
// is nil when there is no backing volume or DescribeVolumes did not return it.
type AttachedVolume struct {
	Device              string
	VolumeID            string
	DeleteOnTermination bool
	Volume              *Volume
}

// Missing reports whether the mapping names a volume that could not be described.
func (a AttachedVolume) Missing() bool {
	return a.VolumeID != "" && a.Volume == nil
}

// Snapshot is a point-in-time view of an EBS snapshot.
type Snapshot struct {
	SnapshotID string
	VolumeID   string
	State      string
	Progress   string
	Message    string
}

// CreateVolumeParams describes a volume to create from a snapshot.
// Iops is only sent when non-zero.
type CreateVolumeParams struct {
	SnapshotID string
	VolumeType string
	AZ         string
	Iops       int32
	Encrypted  bool
	KmsKeyID   string
}

// IsProvisionedIOPS reports whether the volume type belongs to the io1/io2 family.
func IsProvisionedIOPS(volumeType string) bool {
	return strings.HasPrefix(volumeType, "io")
}
