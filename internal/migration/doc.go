// Package migration replaces every unencrypted EBS volume attached to a
// stopped EC2 instance with an encrypted copy mounted at the same device.
//
// Each volume goes through a strictly sequential state machine:
// snapshot, encrypted volume creation, detach, attach, cleanup and tagging.
// Every asynchronous step is awaited before the next one is issued. Nothing
// is rolled back on failure; snapshots and volumes created before the
// failure are left for the operator and reported in the returned error.
package migration
