package kms

// Key describes a KMS key resolved from an id, ARN or alias.
type Key struct {
	KeyID   string
	Arn     string
	State   string
	Usage   string
	Manager string
	Enabled bool
}
