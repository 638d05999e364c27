package delegation

import (
	"github.com/sirupsen/logrus"
)

// EventKind classifies a soft failure.
type EventKind string

const (
	// EventCorruptedDelegation: the entry decrypted but names another entity.
	EventCorruptedDelegation EventKind = "corrupted_delegation"
	// EventUndecryptableDelegation: the entry could not be decrypted.
	EventUndecryptableDelegation EventKind = "undecryptable_delegation"
	// EventMissingExchangeKey: an entry's owner has no exchange key with us.
	EventMissingExchangeKey EventKind = "missing_exchange_key"
	// EventHierarchyFallback: no entry for a data owner, retrying with its parent.
	EventHierarchyFallback EventKind = "hierarchy_fallback"
	// EventShareFailed: sharing with one delegate failed, others go on.
	EventShareFailed EventKind = "share_failed"
)

// Event describes a soft failure or notable step that does not abort the
// current operation.
type Event struct {
	Kind        EventKind
	DataOwnerID string
	EntityID    string
	// Related is the entry owner or parent id, depending on Kind.
	Related string
	Err     error
}

// Diagnostics receives events. Implementations must be safe for concurrent use.
type Diagnostics interface {
	Report(Event)
}

// DiagnosticsFunc adapts a function to Diagnostics.
type DiagnosticsFunc func(Event)

func (f DiagnosticsFunc) Report(e Event) {
	f(e)
}

// LogDiagnostics writes events to a logrus logger.
type LogDiagnostics struct {
	Logger *logrus.Logger
}

func (l LogDiagnostics) Report(e Event) {
	logger := l.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithFields(logrus.Fields{
		"event":      string(e.Kind),
		"data_owner": e.DataOwnerID,
	})
	if e.EntityID != "" {
		entry = entry.WithField("entity", e.EntityID)
	}
	if e.Related != "" {
		entry = entry.WithField("related", e.Related)
	}
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}

	switch e.Kind {
	case EventHierarchyFallback:
		entry.Debug("no delegation entry, falling back on parent")
	case EventShareFailed:
		entry.Warn("cannot share entity with delegate")
	case EventCorruptedDelegation:
		entry.Warn("cryptographic mistake: delegation names another entity, this may happen after a merge")
	default:
		entry.Warn("skipping delegation entry")
	}
}
