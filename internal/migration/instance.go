package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	awsec2 "tasnim.dev/ebscrypt/internal/aws/ec2"
)

// Skip records a block device that was left untouched.
type Skip struct {
	Device   string
	VolumeID string
	Reason   string
}

const (
	skipNotEBS    = "not an EBS volume"
	skipEncrypted = "already encrypted"
)

// InstanceReport summarises one instance migration.
type InstanceReport struct {
	InstanceID string
	Migrated   []VolumeResult
	Skipped    []Skip
	Failed     *VolumeResult
	Started    bool
	Duration   time.Duration
	Err        error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStart controls whether the instance is started after its volumes
// have been processed. Defaults to true.
func WithStart(start bool) Option {
	return func(c *Coordinator) { c.start = start }
}

// WithClock sets the clock used to time migrations.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// Coordinator migrates all eligible volumes of one instance at a time.
type Coordinator struct {
	remote Remote
	waiter Waiter
	logger *zap.Logger
	start  bool
	clock  clock.Clock
}

func NewCoordinator(remote Remote, w Waiter, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		remote: remote,
		waiter: w,
		logger: logger,
		start:  true,
		clock:  clock.WallClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Migrate checks the instance is stopped, migrates its unencrypted volumes
// one at a time, then starts it. Processing stops at the first failed
// volume. The instance is still started after a failure unless the failure
// may have left a device without a volume.
func (c *Coordinator) Migrate(ctx context.Context, instanceID string, key Key, discardSource bool) (InstanceReport, error) {
	began := c.clock.Now()
	report := InstanceReport{InstanceID: instanceID}
	finish := func(err error) (InstanceReport, error) {
		report.Duration = c.clock.Now().Sub(began)
		report.Err = err
		return report, err
	}

	log := c.logger.With(zap.String("instance", instanceID))
	log.Info("starting instance migration", zap.Bool("discardSource", discardSource), zap.String("key", key.Ref))

	inst, err := Precheck(ctx, c.remote, instanceID)
	if err != nil {
		return finish(err)
	}
	log.Debug("instance ready", zap.String("type", inst.Type), zap.String("az", inst.AZ), zap.Int("devices", len(inst.Devices)))

	attached, err := c.remote.ListAttachedVolumes(ctx, instanceID)
	if err != nil {
		return finish(&Error{Kind: classify(err, KindRemoteOperation), Instance: instanceID, Step: StateStart, Err: err})
	}

	for _, av := range attached {
		if av.Missing() {
			err := fmt.Errorf("volume %s attached at %s was not returned by DescribeVolumes", av.VolumeID, av.Device)
			return finish(&Error{Kind: KindNotFound, Instance: instanceID, Volume: av.VolumeID, Step: StateStart, Err: err})
		}
	}

	migrator := NewVolumeMigrator(c.remote, c.waiter, key, discardSource, c.logger)

	var loopErr error
	for _, av := range attached {
		if skip, ok := skipReason(av); ok {
			log.Warn("skipping device", zap.String("device", skip.Device), zap.String("volume", skip.VolumeID), zap.String("reason", skip.Reason))
			report.Skipped = append(report.Skipped, skip)
			continue
		}

		res, err := migrator.Migrate(ctx, instanceID, av)
		if err != nil {
			report.Failed = &res
			loopErr = err
			break
		}
		report.Migrated = append(report.Migrated, res)
	}

	if err := c.startInstance(ctx, log, instanceID, loopErr, &report); err != nil && loopErr == nil {
		loopErr = err
	}
	if loopErr != nil {
		return finish(loopErr)
	}

	log.Info("instance migration complete",
		zap.Int("migrated", len(report.Migrated)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return finish(nil)
}

func (c *Coordinator) startInstance(ctx context.Context, log *zap.Logger, instanceID string, loopErr error, report *InstanceReport) error {
	if !c.start {
		log.Info("leaving instance stopped")
		return nil
	}

	var merr *Error
	if errors.As(loopErr, &merr) && deviceVacant(merr.Step) {
		log.Warn("not starting instance: a device may have no volume attached", zap.String("device", report.Failed.Device))
		return nil
	}

	if err := c.remote.StartInstance(ctx, instanceID); err != nil {
		log.Error("failed to start instance", zap.Error(err))
		return &Error{Kind: classify(err, KindRemoteOperation), Instance: instanceID, Step: StateDone, Err: err}
	}
	report.Started = true
	log.Info("instance started")
	return nil
}

func skipReason(av awsec2.AttachedVolume) (Skip, bool) {
	switch {
	case av.VolumeID == "":
		return Skip{Device: av.Device, Reason: skipNotEBS}, true
	case av.Volume != nil && av.Volume.Encrypted:
		return Skip{Device: av.Device, VolumeID: av.Volume.VolumeID, Reason: skipEncrypted}, true
	}
	return Skip{}, false
}
