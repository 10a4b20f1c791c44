package ec2

import (
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrUnreachable is returned when the EC2 endpoint could not be reached.
	ErrUnreachable = errors.New("endpoint unreachable")
)

var notFoundCodes = map[string]bool{
	"InvalidInstanceID.NotFound":  true,
	"InvalidInstanceID.Malformed": true,
	"InvalidVolume.NotFound":      true,
	"InvalidSnapshot.NotFound":    true,
}

// wrap annotates err with the API operation name and tags it with
// ErrNotFound or ErrUnreachable when it can be classified.
func wrap(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && notFoundCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	}

	var sendErr *smithyhttp.RequestSendError
	var netErr net.Error
	if errors.As(err, &sendErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnreachable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
