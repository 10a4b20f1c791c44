package migration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	awsec2 "tasnim.dev/ebscrypt/internal/aws/ec2"
	"tasnim.dev/ebscrypt/internal/utils"
)

// ReplacementTag is set on a preserved source volume and points at the
// encrypted volume that replaced it.
const ReplacementTag = "encryptedReplacement"

const snapshotDescription = "ebscrypt temporary snapshot for "

// VolumeResult records how far one volume got and which resources it
// produced.
type VolumeResult struct {
	SourceID      string
	ReplacementID string
	SnapshotID    string
	Device        string
	SizeGiB       int32
	State         State

	snapshotDeleted bool
	attached        bool
}

// orphans lists resources that exist only because of this migration and
// were not cleaned up or put in service.
func (r VolumeResult) orphans() []string {
	var out []string
	if r.SnapshotID != "" && !r.snapshotDeleted {
		out = append(out, r.SnapshotID)
	}
	if r.ReplacementID != "" && !r.attached {
		out = append(out, r.ReplacementID)
	}
	return out
}

// VolumeMigrator runs the per-volume state machine. It holds no state
// between calls to Migrate.
type VolumeMigrator struct {
	remote        Remote
	waiter        Waiter
	key           Key
	discardSource bool
	logger        *zap.Logger
}

func NewVolumeMigrator(remote Remote, w Waiter, key Key, discardSource bool, logger *zap.Logger) *VolumeMigrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VolumeMigrator{
		remote:        remote,
		waiter:        w,
		key:           key,
		discardSource: discardSource,
		logger:        logger,
	}
}

// Migrate replaces the volume behind one block device mapping with an
// encrypted copy attached at the same device. On failure the result's State
// is StateFailed and the error's Step names the state that was not reached.
func (m *VolumeMigrator) Migrate(ctx context.Context, instanceID string, av awsec2.AttachedVolume) (VolumeResult, error) {
	res := VolumeResult{Device: av.Device, State: StateStart}
	if av.Volume == nil {
		return m.fail(&res, instanceID, StateSnapshotRequested, KindInvalidState,
			fmt.Errorf("device %s has no EBS volume", av.Device))
	}

	src := *av.Volume
	res.SourceID = src.VolumeID
	res.SizeGiB = src.Size
	log := m.logger.With(
		zap.String("instance", instanceID),
		zap.String("volume", src.VolumeID),
		zap.String("device", av.Device),
	)
	log.Info("encrypting volume", zap.String("type", src.VolumeType), zap.String("size", utils.GiB(int64(src.Size))))

	// Snapshot the source and wait for the copy to complete.
	snapshotID, err := m.remote.CreateSnapshot(ctx, src.VolumeID, snapshotDescription+src.VolumeID)
	if err != nil {
		return m.fail(&res, instanceID, StateSnapshotRequested, KindRemoteOperation, err)
	}
	res.SnapshotID = snapshotID
	m.enter(log, &res, StateSnapshotRequested, zap.String("snapshot", snapshotID))

	if err := m.waiter.SnapshotCompleted(ctx, snapshotID); err != nil {
		return m.fail(&res, instanceID, StateSnapshotReady, KindRemoteOperation, err)
	}
	m.enter(log, &res, StateSnapshotReady)

	// Create the encrypted replacement from the snapshot.
	params := awsec2.CreateVolumeParams{
		SnapshotID: snapshotID,
		VolumeType: src.VolumeType,
		AZ:         src.AZ,
		Encrypted:  true,
		KmsKeyID:   m.key.Ref,
	}
	if awsec2.IsProvisionedIOPS(src.VolumeType) {
		params.Iops = src.Iops
	}
	replacementID, err := m.remote.CreateVolume(ctx, params)
	if err != nil {
		return m.fail(&res, instanceID, StateVolumeCreated, KindRemoteOperation, err)
	}
	res.ReplacementID = replacementID
	m.enter(log, &res, StateVolumeCreated, zap.String("replacement", replacementID))

	if err := m.waiter.VolumeAvailable(ctx, replacementID); err != nil {
		return m.fail(&res, instanceID, StateVolumeAvailable, KindRemoteOperation, err)
	}
	if err := m.verifyReplacement(ctx, replacementID); err != nil {
		return m.fail(&res, instanceID, StateVolumeAvailable, KindRemoteOperation, err)
	}
	if tags := utils.UserTags(src.Tags); len(tags) > 0 {
		if err := m.remote.TagResource(ctx, replacementID, tags); err != nil {
			return m.fail(&res, instanceID, StateVolumeAvailable, KindRemoteOperation, err)
		}
	}
	m.enter(log, &res, StateVolumeAvailable)

	// Swap: the source must be fully detached before the replacement takes
	// its device.
	if err := m.remote.DetachVolume(ctx, instanceID, av.Device, src.VolumeID); err != nil {
		return m.fail(&res, instanceID, StateDetached, KindRemoteOperation, err)
	}
	if err := m.waiter.VolumeAvailable(ctx, src.VolumeID); err != nil {
		return m.fail(&res, instanceID, StateDetached, KindRemoteOperation, err)
	}
	m.enter(log, &res, StateDetached)

	if err := m.remote.AttachVolume(ctx, instanceID, av.Device, replacementID); err != nil {
		return m.fail(&res, instanceID, StateAttached, KindRemoteOperation, err)
	}
	res.attached = true
	m.enter(log, &res, StateAttached)

	// Cleanup.
	if err := m.waiter.VolumeAvailable(ctx, src.VolumeID); err != nil {
		return m.fail(&res, instanceID, StateCleaned, KindRemoteOperation, err)
	}
	if m.discardSource {
		if err := m.remote.DeleteVolume(ctx, src.VolumeID); err != nil {
			return m.fail(&res, instanceID, StateCleaned, KindRemoteOperation, err)
		}
		log.Info("deleted source volume")
	} else {
		log.Info("preserving source volume")
	}
	if err := m.remote.DeleteSnapshot(ctx, snapshotID); err != nil {
		return m.fail(&res, instanceID, StateCleaned, KindRemoteOperation, err)
	}
	res.snapshotDeleted = true
	m.enter(log, &res, StateCleaned)

	// Lineage tag and termination semantics.
	if !m.discardSource {
		if err := m.remote.TagResource(ctx, src.VolumeID, map[string]string{ReplacementTag: replacementID}); err != nil {
			return m.fail(&res, instanceID, StateTagged, KindRemoteOperation, err)
		}
	}
	if av.DeleteOnTermination {
		if err := m.remote.SetDeleteOnTermination(ctx, instanceID, av.Device, true); err != nil {
			return m.fail(&res, instanceID, StateTagged, KindRemoteOperation, err)
		}
	}
	m.enter(log, &res, StateTagged, zap.Bool("deleteOnTermination", av.DeleteOnTermination))

	m.enter(log, &res, StateDone)
	return res, nil
}

// verifyReplacement re-reads the new volume and checks it is encrypted
// with the migration key.
func (m *VolumeMigrator) verifyReplacement(ctx context.Context, volumeID string) error {
	v, err := m.remote.DescribeVolume(ctx, volumeID)
	if err != nil {
		return err
	}
	if !v.Encrypted {
		return fmt.Errorf("replacement %s is not encrypted", volumeID)
	}
	if m.key.Arn != "" && v.KmsKeyID != m.key.Arn {
		return fmt.Errorf("replacement %s is encrypted with %s, want %s", volumeID, v.KmsKeyID, m.key.Arn)
	}
	return nil
}

func (m *VolumeMigrator) enter(log *zap.Logger, res *VolumeResult, s State, fields ...zap.Field) {
	res.State = s
	log.Info(string(s), fields...)
}

func (m *VolumeMigrator) fail(res *VolumeResult, instanceID string, step State, fallback Kind, err error) (VolumeResult, error) {
	res.State = StateFailed
	return *res, &Error{
		Kind:     classify(err, fallback),
		Instance: instanceID,
		Volume:   res.SourceID,
		Step:     step,
		Orphans:  res.orphans(),
		Err:      err,
	}
}
