package logging

import (
	"log/slog"
)

// Attribute keys shared by every package.
const (
	KeyOperation = "operation"
	KeyComponent = "component"
	KeyProvider  = "provider"
	KeyUserHash  = "user_hash"
	KeyDuration  = "duration"
	KeyStatus    = "status"
	KeyError     = "error"
	KeyPort      = "port"
)

// WithOperation returns a logger tagged with operation, e.g. "auth.refresh".
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String(KeyOperation, operation))
}

// WithComponent returns a logger tagged with the subsystem writing to it.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String(KeyComponent, component))
}

func Provider(name string) slog.Attr {
	return slog.String(KeyProvider, name)
}

func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Port is the local port of a callback listener.
func Port(port int) slog.Attr {
	return slog.Int(KeyPort, port)
}

// Err returns the error attribute. A nil err yields an empty group, which
// handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// UserHash identifies an account without writing its address.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}
