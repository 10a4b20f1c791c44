package migration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	awsec2 "tasnim.dev/ebscrypt/internal/aws/ec2"
	"tasnim.dev/ebscrypt/internal/waiter"
)

// fakeRemote is an in-memory EC2 that records every mutating call and wait
// in order. Describe calls are not recorded.
type fakeRemote struct {
	mu        sync.Mutex
	instances map[string]*awsec2.Instance
	volumes   map[string]*awsec2.Volume
	snapshots map[string]*awsec2.Snapshot
	keyArns   map[string]string

	// newVolumeIDs are handed out by CreateVolume in order before falling
	// back to generated ids.
	newVolumeIDs []string
	// failOn makes the named operation fail, keyed by "Op" or "Op arg".
	failOn map[string]error
	// snapshotState overrides the state reported for new snapshots.
	snapshotState string
	// afterDetach runs, without the lock held, after each successful detach.
	afterDetach func()

	calls       []string
	created     []awsec2.CreateVolumeParams
	volumeSeq   int
	snapshotSeq int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		instances: map[string]*awsec2.Instance{},
		volumes:   map[string]*awsec2.Volume{},
		snapshots: map[string]*awsec2.Snapshot{},
		keyArns:   map[string]string{},
		failOn:    map[string]error{},
	}
}

// addInstance registers a stopped instance with the given volumes attached
// in order.
func (f *fakeRemote) addInstance(id string, vols ...attachedSpec) {
	inst := &awsec2.Instance{
		InstanceID:     id,
		Type:           "t3.medium",
		State:          awsec2.InstanceStateStopped,
		AZ:             "us-east-1a",
		RootDeviceType: "ebs",
	}
	for _, as := range vols {
		dev := awsec2.BlockDevice{DeviceName: as.device, DeleteOnTermination: as.deleteOnTermination}
		if as.volume != nil {
			v := *as.volume
			v.State = awsec2.VolumeStateInUse
			v.Attachments = []awsec2.VolumeAttachment{{InstanceID: id, Device: as.device, State: "attached", DeleteOnTermination: as.deleteOnTermination}}
			if v.AZ == "" {
				v.AZ = inst.AZ
			}
			f.volumes[v.VolumeID] = &v
			dev.VolumeID = v.VolumeID
		}
		inst.Devices = append(inst.Devices, dev)
	}
	f.instances[id] = inst
}

type attachedSpec struct {
	device              string
	deleteOnTermination bool
	volume              *awsec2.Volume
}

// record logs a call and returns its injected failure. Like an SDK call it
// fails once ctx is done.
func (f *fakeRemote) record(ctx context.Context, op string, args ...string) error {
	f.calls = append(f.calls, strings.TrimSpace(op+" "+strings.Join(args, " ")))
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := f.failOn[op]; ok {
		return err
	}
	if len(args) > 0 {
		if err, ok := f.failOn[op+" "+args[0]]; ok {
			return err
		}
	}
	return nil
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// mutations returns recorded calls that change remote state.
func (f *fakeRemote) mutations() []string {
	var out []string
	for _, c := range f.callLog() {
		if !strings.HasPrefix(c, "Wait") {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRemote) DescribeInstance(ctx context.Context, instanceID string) (awsec2.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn["DescribeInstance"]; ok {
		return awsec2.Instance{}, err
	}
	inst, ok := f.instances[instanceID]
	if !ok {
		return awsec2.Instance{}, fmt.Errorf("DescribeInstances: instance %s: %w", instanceID, awsec2.ErrNotFound)
	}
	out := *inst
	out.Devices = append([]awsec2.BlockDevice(nil), inst.Devices...)
	return out, nil
}

func (f *fakeRemote) ListAttachedVolumes(ctx context.Context, instanceID string) ([]awsec2.AttachedVolume, error) {
	inst, err := f.DescribeInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []awsec2.AttachedVolume
	for _, dev := range inst.Devices {
		av := awsec2.AttachedVolume{Device: dev.DeviceName, VolumeID: dev.VolumeID, DeleteOnTermination: dev.DeleteOnTermination}
		if v, ok := f.volumes[dev.VolumeID]; ok {
			cp := *v
			av.Volume = &cp
		}
		out = append(out, av)
	}
	return out, nil
}

func (f *fakeRemote) DescribeVolume(ctx context.Context, volumeID string) (awsec2.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[volumeID]
	if !ok {
		return awsec2.Volume{}, fmt.Errorf("DescribeVolumes: volume %s: %w", volumeID, awsec2.ErrNotFound)
	}
	return *v, nil
}

func (f *fakeRemote) DescribeSnapshot(ctx context.Context, snapshotID string) (awsec2.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[snapshotID]
	if !ok {
		return awsec2.Snapshot{}, fmt.Errorf("DescribeSnapshots: snapshot %s: %w", snapshotID, awsec2.ErrNotFound)
	}
	return *s, nil
}

func (f *fakeRemote) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "CreateSnapshot", volumeID); err != nil {
		return "", err
	}
	f.snapshotSeq++
	id := fmt.Sprintf("snap-%d", f.snapshotSeq)
	state := awsec2.SnapshotStateCompleted
	if f.snapshotState != "" {
		state = f.snapshotState
	}
	f.snapshots[id] = &awsec2.Snapshot{SnapshotID: id, VolumeID: volumeID, State: state, Message: description}
	return id, nil
}

func (f *fakeRemote) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "DeleteSnapshot", snapshotID); err != nil {
		return err
	}
	delete(f.snapshots, snapshotID)
	return nil
}

func (f *fakeRemote) CreateVolume(ctx context.Context, p awsec2.CreateVolumeParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "CreateVolume", p.SnapshotID); err != nil {
		return "", err
	}
	f.created = append(f.created, p)

	var id string
	if len(f.newVolumeIDs) > 0 {
		id, f.newVolumeIDs = f.newVolumeIDs[0], f.newVolumeIDs[1:]
	} else {
		f.volumeSeq++
		id = fmt.Sprintf("vol-new-%d", f.volumeSeq)
	}

	keyID := p.KmsKeyID
	if arn, ok := f.keyArns[p.KmsKeyID]; ok {
		keyID = arn
	}
	f.volumes[id] = &awsec2.Volume{
		VolumeID:   id,
		VolumeType: p.VolumeType,
		AZ:         p.AZ,
		Iops:       p.Iops,
		Encrypted:  p.Encrypted,
		KmsKeyID:   keyID,
		State:      awsec2.VolumeStateAvailable,
	}
	return id, nil
}

func (f *fakeRemote) DeleteVolume(ctx context.Context, volumeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "DeleteVolume", volumeID); err != nil {
		return err
	}
	v, ok := f.volumes[volumeID]
	if !ok {
		return fmt.Errorf("volume %s: %w", volumeID, awsec2.ErrNotFound)
	}
	if v.State != awsec2.VolumeStateAvailable {
		return fmt.Errorf("volume %s is %s", volumeID, v.State)
	}
	delete(f.volumes, volumeID)
	return nil
}

func (f *fakeRemote) DetachVolume(ctx context.Context, instanceID, device, volumeID string) error {
	f.mu.Lock()
	err := f.detach(ctx, instanceID, device, volumeID)
	hook := f.afterDetach
	f.mu.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (f *fakeRemote) detach(ctx context.Context, instanceID, device, volumeID string) error {
	if err := f.record(ctx, "DetachVolume", instanceID, device, volumeID); err != nil {
		return err
	}
	inst := f.instances[instanceID]
	for i, dev := range inst.Devices {
		if dev.DeviceName == device {
			if dev.VolumeID != volumeID {
				return fmt.Errorf("%s is not attached at %s", volumeID, device)
			}
			inst.Devices[i].VolumeID = ""
			v := f.volumes[volumeID]
			v.State = awsec2.VolumeStateAvailable
			v.Attachments = nil
			return nil
		}
	}
	return fmt.Errorf("no device %s on %s", device, instanceID)
}

// deviceVolume returns the volume currently attached at device.
func (f *fakeRemote) deviceVolume(instanceID, device string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dev := range f.instances[instanceID].Devices {
		if dev.DeviceName == device {
			return dev.VolumeID
		}
	}
	return ""
}

func (f *fakeRemote) AttachVolume(ctx context.Context, instanceID, device, volumeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "AttachVolume", instanceID, device, volumeID); err != nil {
		return err
	}
	inst := f.instances[instanceID]
	for i, dev := range inst.Devices {
		if dev.DeviceName == device {
			if dev.VolumeID != "" {
				return fmt.Errorf("device %s already has %s attached", device, dev.VolumeID)
			}
			inst.Devices[i].VolumeID = volumeID
			inst.Devices[i].DeleteOnTermination = false
			v := f.volumes[volumeID]
			v.State = awsec2.VolumeStateInUse
			v.Attachments = []awsec2.VolumeAttachment{{InstanceID: instanceID, Device: device, State: "attached"}}
			return nil
		}
	}
	return fmt.Errorf("no device %s on %s", device, instanceID)
}

func (f *fakeRemote) TagResource(ctx context.Context, resourceID string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "TagResource", resourceID, formatTags(tags)); err != nil {
		return err
	}
	v, ok := f.volumes[resourceID]
	if !ok {
		return fmt.Errorf("volume %s: %w", resourceID, awsec2.ErrNotFound)
	}
	if v.Tags == nil {
		v.Tags = map[string]string{}
	}
	for k, val := range tags {
		v.Tags[k] = val
	}
	return nil
}

func (f *fakeRemote) StartInstance(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "StartInstance", instanceID); err != nil {
		return err
	}
	f.instances[instanceID].State = awsec2.InstanceStateRunning
	return nil
}

func (f *fakeRemote) SetDeleteOnTermination(ctx context.Context, instanceID, device string, deleteOnTermination bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(ctx, "SetDeleteOnTermination", instanceID, device, fmt.Sprint(deleteOnTermination)); err != nil {
		return err
	}
	inst := f.instances[instanceID]
	for i, dev := range inst.Devices {
		if dev.DeviceName == device {
			inst.Devices[i].DeleteOnTermination = deleteOnTermination
			return nil
		}
	}
	return fmt.Errorf("no device %s on %s", device, instanceID)
}

func formatTags(tags map[string]string) string {
	pairs := make([]string, 0, len(tags))
	for k, v := range tags {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// fakeWaiter checks the fake's current state once instead of polling, and
// records every wait in the fake's call log.
type fakeWaiter struct {
	remote *fakeRemote
}

func (w *fakeWaiter) SnapshotCompleted(ctx context.Context, snapshotID string) error {
	return w.await(ctx, "WaitSnapshot", snapshotID, func() (string, error) {
		s, err := w.remote.DescribeSnapshot(ctx, snapshotID)
		return s.State, err
	}, awsec2.SnapshotStateCompleted)
}

func (w *fakeWaiter) VolumeAvailable(ctx context.Context, volumeID string) error {
	return w.await(ctx, "WaitVolume", volumeID, func() (string, error) {
		v, err := w.remote.DescribeVolume(ctx, volumeID)
		return v.State, err
	}, awsec2.VolumeStateAvailable)
}

func (w *fakeWaiter) await(ctx context.Context, op, id string, state func() (string, error), target string) error {
	w.remote.mu.Lock()
	err := w.remote.record(ctx, op, id)
	w.remote.mu.Unlock()
	if err != nil {
		return err
	}
	got, err := state()
	if err != nil {
		return err
	}
	if got != target {
		return fmt.Errorf("%w: %s still %q, want %q", waiter.ErrTimeout, id, got, target)
	}
	return nil
}
