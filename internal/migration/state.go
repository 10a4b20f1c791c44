package migration

// State is a step of the per-volume migration.
type State string

const (
	StateStart             State = "start"
	StateSnapshotRequested State = "snapshot-requested"
	StateSnapshotReady     State = "snapshot-ready"
	StateVolumeCreated     State = "volume-created"
	StateVolumeAvailable   State = "volume-available"
	StateDetached          State = "detached"
	StateAttached          State = "attached"
	StateCleaned           State = "cleaned"
	StateTagged            State = "tagged"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// deviceVacant reports whether a failure while moving into s may leave the
// source's device path with no volume attached. Booting the instance in
// that window would start it without one of its disks.
func deviceVacant(s State) bool {
	return s == StateDetached || s == StateAttached
}
