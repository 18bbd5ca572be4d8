package adapter

import (
	"context"
	"errors"

	"github.com/federatedsql/gateway/internal/apierr"
)

func unsupportedKind(k Kind) *apierr.Error {
	return apierr.New(apierr.Internal, "no adapter registered for kind %q", k)
}

// wrapExecError classifies a driver-level error into the closed taxonomy.
// The raw driver message is still shown to the user (it is the most
// actionable thing we have), composed through this one template rather
// than forwarded as the error value itself; the driver's text, including
// anything it embeds, appears in the message unchanged.
func wrapExecError(engine Kind, nativeSQL string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.New(apierr.Timeout, "query against %s timed out", engine)
	}
	return (&apierr.Error{
		Code:    apierr.SourceQueryFailed,
		Message: engineQueryFailedMessage(engine, err),
		Details: map[string]any{"engine": string(engine), "native_sql": nativeSQL},
	})
}

func engineQueryFailedMessage(engine Kind, err error) string {
	return "query failed on " + string(engine) + ": " + err.Error()
}

func wrapConnectError(engine Kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.New(apierr.Timeout, "connecting to %s timed out", engine)
	}
	return apierr.New(apierr.SourceUnavailable, "could not reach %s: %s", engine, err.Error())
}
