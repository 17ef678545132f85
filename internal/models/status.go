package models

import "fmt"

// Status is the sync state of a locally applied change relative to the remote store.
type Status int

const (
	// StatusPending queued locally, not yet sent
	StatusPending Status = iota + 1
	// StatusSyncing submission in flight
	StatusSyncing
	// StatusSynced confirmed by the remote store, kept only for the grace period
	StatusSynced
	// StatusError submission failed, may be retried
	StatusError
	// StatusConflict remote state diverged, needs an explicit resolution
	StatusConflict
)

// Statuses lists every status in declaration order.
var Statuses = []Status{
	StatusPending,
	StatusSyncing,
	StatusSynced,
	StatusError,
	StatusConflict,
}

var statusNames = map[Status]string{
	StatusPending:  "pending",
	StatusSyncing:  "syncing",
	StatusSynced:   "synced",
	StatusError:    "error",
	StatusConflict: "conflict",
}

// String returns the lower-case name used in storage and CLI output.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus converts a status name back to a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// MarshalText implements encoding.TextMarshaler so statuses persist by name.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Trigger is an event that may move an operation between statuses.
type Trigger int

const (
	// TriggerDispatch submission handed to the remote store
	TriggerDispatch Trigger = iota + 1
	// TriggerSucceed remote acknowledged the write
	TriggerSucceed
	// TriggerFailTransient network, timeout or server-side failure
	TriggerFailTransient
	// TriggerFailConflict version/precondition mismatch
	TriggerFailConflict
	// TriggerFailPermanent payload rejected as invalid
	TriggerFailPermanent
	// TriggerRetry user or backoff initiated resubmission
	TriggerRetry
	// TriggerResolve user supplied a conflict resolution
	TriggerResolve
	// TriggerDiscard user dropped a failed or conflicted operation
	TriggerDiscard
	// TriggerCancel user dropped an operation before dispatch
	TriggerCancel
	// TriggerConnectivityLost connection dropped while in flight
	TriggerConnectivityLost
	// TriggerExpire grace period after confirmation elapsed
	TriggerExpire
)

var triggerNames = map[Trigger]string{
	TriggerDispatch:         "dispatch",
	TriggerSucceed:          "succeed",
	TriggerFailTransient:    "fail_transient",
	TriggerFailConflict:     "fail_conflict",
	TriggerFailPermanent:    "fail_permanent",
	TriggerRetry:            "retry",
	TriggerResolve:          "resolve",
	TriggerDiscard:          "discard",
	TriggerCancel:           "cancel",
	TriggerConnectivityLost: "connectivity_lost",
	TriggerExpire:           "expire",
}

func (t Trigger) String() string {
	if name, ok := triggerNames[t]; ok {
		return name
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}
