package migration

import (
	"errors"

	"go.uber.org/zap"

	"tasnim.dev/ebscrypt/internal/utils"
)

// Report is the outcome of a batch run, in input order.
type Report struct {
	Instances    []InstanceReport
	NotAttempted []string
}

// Failed returns the reports of instances whose migration returned an error.
func (r Report) Failed() []InstanceReport {
	var out []InstanceReport
	for _, inst := range r.Instances {
		if inst.Err != nil {
			out = append(out, inst)
		}
	}
	return out
}

// EncryptedGiB sums the size of every successfully migrated volume.
func (r Report) EncryptedGiB() int64 {
	var total int64
	for _, inst := range r.Instances {
		total += inst.EncryptedGiB()
	}
	return total
}

// EncryptedGiB sums the size of the instance's migrated volumes.
func (r InstanceReport) EncryptedGiB() int64 {
	var total int64
	for _, v := range r.Migrated {
		total += int64(v.SizeGiB)
	}
	return total
}

// Log writes one line per instance and a closing summary.
func (r Report) Log(logger *zap.Logger) {
	for _, inst := range r.Instances {
		fields := []zap.Field{
			zap.String("instance", inst.InstanceID),
			zap.Int("migrated", len(inst.Migrated)),
			zap.Int("skipped", len(inst.Skipped)),
			zap.String("encrypted", utils.GiB(inst.EncryptedGiB())),
			zap.String("duration", utils.Elapsed(inst.Duration)),
			zap.Bool("started", inst.Started),
		}
		if inst.Err == nil {
			logger.Info("instance done", fields...)
			continue
		}

		var merr *Error
		if errors.As(inst.Err, &merr) {
			fields = append(fields, zap.String("kind", string(merr.Kind)), zap.String("step", string(merr.Step)))
			if len(merr.Orphans) > 0 {
				fields = append(fields, zap.Strings("orphans", merr.Orphans))
			}
		}
		logger.Error("instance failed", append(fields, zap.Error(inst.Err))...)
	}

	for _, id := range r.NotAttempted {
		logger.Warn("instance not attempted", zap.String("instance", id))
	}

	logger.Info("batch summary",
		zap.Int("instances", len(r.Instances)+len(r.NotAttempted)),
		zap.Int("failed", len(r.Failed())),
		zap.Int("notAttempted", len(r.NotAttempted)),
		zap.String("encrypted", utils.GiB(r.EncryptedGiB())),
	)
}
