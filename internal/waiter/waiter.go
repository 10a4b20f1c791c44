// Package waiter blocks until an EBS snapshot or volume reaches a target
// state by polling its description.
package waiter

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/retry"
	"go.uber.org/zap"

	awsec2 "tasnim.dev/ebscrypt/internal/aws/ec2"
)

var (
	// ErrTimeout is returned when a resource does not reach its target state
	// within the policy bounds.
	ErrTimeout = errors.New("wait timed out")
	// ErrFailedState is returned when a resource enters a terminal error state.
	ErrFailedState = errors.New("resource entered a failed state")

	errNotReady = errors.New("not ready")
)

// Kind identifies the type of resource being awaited.
type Kind string

const (
	KindSnapshot Kind = "snapshot"
	KindVolume   Kind = "volume"
)

// Describer is the subset of the EC2 client the waiter polls.
type Describer interface {
	DescribeSnapshot(ctx context.Context, snapshotID string) (awsec2.Snapshot, error)
	DescribeVolume(ctx context.Context, volumeID string) (awsec2.Volume, error)
}

type Waiter struct {
	api    Describer
	policy Policy
	logger *zap.Logger
}

func New(api Describer, policy Policy, logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{api: api, policy: policy.withDefaults(), logger: logger}
}

// SnapshotCompleted waits for a snapshot to reach the completed state.
func (w *Waiter) SnapshotCompleted(ctx context.Context, snapshotID string) error {
	return w.Await(ctx, KindSnapshot, snapshotID, awsec2.SnapshotStateCompleted)
}

// VolumeAvailable waits for a volume to reach the available state.
func (w *Waiter) VolumeAvailable(ctx context.Context, volumeID string) error {
	return w.Await(ctx, KindVolume, volumeID, awsec2.VolumeStateAvailable)
}

// Await polls the resource until its state equals target. Describe errors
// and terminal error states stop the wait immediately.
func (w *Waiter) Await(ctx context.Context, kind Kind, id, target string) error {
	log := w.logger.With(zap.String("kind", string(kind)), zap.String("id", id), zap.String("target", target))

	var last status
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			st, err := w.status(ctx, kind, id)
			if err != nil {
				return err
			}
			last = st
			if st.state == target {
				return nil
			}
			if isFailed(kind, st.state) {
				if st.message != "" {
					return fmt.Errorf("%w: %s %s is in state %q: %s", ErrFailedState, kind, id, st.state, st.message)
				}
				return fmt.Errorf("%w: %s %s is in state %q", ErrFailedState, kind, id, st.state)
			}
			return errNotReady
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errNotReady)
		},
		NotifyFunc: func(_ error, attempt int) {
			fields := []zap.Field{zap.Int("attempt", attempt), zap.String("state", last.state)}
			if last.progress != "" {
				fields = append(fields, zap.String("progress", last.progress))
			}
			log.Debug("waiting", fields...)
		},
		Attempts:    w.policy.MaxAttempts,
		Delay:       w.policy.Interval,
		MaxDuration: w.policy.Timeout,
		Clock:       w.policy.Clock,
		Stop:        ctx.Done(),
	})

	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err), retry.IsDurationExceeded(err):
		return fmt.Errorf("%w: %s %s still %q, want %q", ErrTimeout, kind, id, last.state, target)
	case retry.IsRetryStopped(err):
		return fmt.Errorf("waiting for %s %s: %w", kind, id, ctx.Err())
	default:
		return err
	}
}

func isFailed(kind Kind, state string) bool {
	switch kind {
	case KindSnapshot:
		return state == awsec2.SnapshotStateError
	case KindVolume:
		return state == awsec2.VolumeStateError
	}
	return false
}

// status is one observation of a polled resource. progress and message are
// only reported for snapshots.
type status struct {
	state    string
	progress string
	message  string
}

func (w *Waiter) status(ctx context.Context, kind Kind, id string) (status, error) {
	switch kind {
	case KindSnapshot:
		s, err := w.api.DescribeSnapshot(ctx, id)
		return status{state: s.State, progress: s.Progress, message: s.Message}, err
	case KindVolume:
		v, err := w.api.DescribeVolume(ctx, id)
		return status{state: v.State}, err
	default:
		return status{}, fmt.Errorf("unknown resource kind %q", kind)
	}
}
