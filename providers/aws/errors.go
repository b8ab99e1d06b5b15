package aws

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// isNotFound reports whether err is an AWS "no such resource" error. Each
// service names the condition differently; EC2 uses per-type codes ending
// in ".NotFound".
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	switch code {
	case "ResourceNotFoundException", "NotFoundException", "NoSuchEntity":
		return true
	}
	return strings.HasSuffix(code, ".NotFound")
}

// isAlreadyExists reports whether err means the resource is already present.
func isAlreadyExists(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ResourceAlreadyExistsException", "AlreadyExistsException", "EntityAlreadyExists", "InvalidGroup.Duplicate":
		return true
	}
	return false
}
