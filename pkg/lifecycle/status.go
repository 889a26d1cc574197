package lifecycle

// Status is the lifecycle status of an agent record. The zero value ("")
// is not a valid status.
type Status string

const (
	// StatusInitializing is assigned at registration, before the agent
	// has been initialized.
	StatusInitializing Status = "initializing"

	// StatusActive indicates the agent is running and reporting work.
	StatusActive Status = "active"

	// StatusHealthy is the status assigned by automatic recovery. It is
	// treated as live, exactly like StatusActive.
	StatusHealthy Status = "healthy"

	// StatusPaused indicates the agent was suspended manually and keeps
	// its resources.
	StatusPaused Status = "paused"

	// StatusFailed indicates the agent failed. A failed record always
	// carries a failure reason and remains eligible for recovery.
	StatusFailed Status = "failed"

	// StatusShuttingDown indicates a graceful shutdown is in progress.
	StatusShuttingDown Status = "shutting_down"

	// StatusShutdown is terminal.
	StatusShutdown Status = "shutdown"
)

// Pseudo statuses used only as event endpoints. They are never valid for
// a stored record.
const (
	// StatusUnregistered is the origin of the "initialized" event.
	StatusUnregistered Status = "unregistered"

	// StatusCorrupted is the target of "state_corruption_detected" and the
	// origin of "state_repaired".
	StatusCorrupted Status = "corrupted"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s may be stored in an agent record.
func (s Status) Valid() bool {
	switch s {
	case StatusInitializing, StatusActive, StatusHealthy, StatusPaused,
		StatusFailed, StatusShuttingDown, StatusShutdown:
		return true
	default:
		return false
	}
}

// IsLive reports whether the agent is considered running. Health checks,
// corruption rules, and shutdown treat active and healthy alike.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusHealthy
}

// IsTerminal reports whether s is the terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusShutdown
}

// Statuses returns every storable status in a stable order.
func Statuses() []Status {
	return []Status{
		StatusInitializing, StatusActive, StatusHealthy, StatusPaused,
		StatusFailed, StatusShuttingDown, StatusShutdown,
	}
}

// canPause lists the statuses from which a manual pause is accepted.
var canPause = map[Status]bool{
	StatusActive:  true,
	StatusHealthy: true,
}

// canShutdown lists the statuses swept into a graceful shutdown.
var canShutdown = map[Status]bool{
	StatusActive:  true,
	StatusHealthy: true,
	StatusPaused:  true,
}
