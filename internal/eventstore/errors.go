package eventstore

import (
	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
)

const serviceName = "eventstore"

func storeError(op string, cause error) error {
	return derrors.ExternalUnavailable(serviceName, cause).WithContext("operation", op)
}

func payloadError(eventType string, cause error) error {
	return derrors.Wrap(cause, derrors.CategoryInternal, derrors.SeverityError, "failed to marshal event payload").
		WithContext("event_type", eventType)
}
