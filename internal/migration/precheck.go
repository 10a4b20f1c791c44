package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsec2 "tasnim.dev/ebscrypt/internal/aws/ec2"
)

// Previous generation families that cannot attach encrypted volumes.
var unsupportedInstanceTypes = []string{"c1.", "m1.", "m2.", "t1."}

// Precheck confirms the instance exists, is stopped, and can host encrypted
// EBS volumes. It issues no mutating calls.
func Precheck(ctx context.Context, remote Remote, instanceID string) (awsec2.Instance, error) {
	inst, err := remote.DescribeInstance(ctx, instanceID)
	if err != nil {
		kind := classify(err, KindRemoteOperation)
		if errors.Is(err, awsec2.ErrNotFound) {
			kind = KindNotFound
		}
		return awsec2.Instance{}, &Error{Kind: kind, Instance: instanceID, Step: StateStart, Err: err}
	}

	if inst.State != awsec2.InstanceStateStopped {
		return inst, &Error{
			Kind:     KindInvalidState,
			Instance: instanceID,
			Step:     StateStart,
			Err:      fmt.Errorf("instance is %s, stop it before migrating", inst.State),
		}
	}

	if inst.RootDeviceType != "" && inst.RootDeviceType != "ebs" {
		return inst, &Error{
			Kind:     KindInvalidState,
			Instance: instanceID,
			Step:     StateStart,
			Err:      fmt.Errorf("root device type %s is not supported", inst.RootDeviceType),
		}
	}

	for _, prefix := range unsupportedInstanceTypes {
		if strings.HasPrefix(inst.Type, prefix) {
			return inst, &Error{
				Kind:     KindInvalidState,
				Instance: instanceID,
				Step:     StateStart,
				Err:      fmt.Errorf("instance type %s does not support encrypted volumes", inst.Type),
			}
		}
	}

	return inst, nil
}
