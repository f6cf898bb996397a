package domain

type ServiceStatus string

const (
	ServiceStarting ServiceStatus = "starting"
	ServiceRunning  ServiceStatus = "running"
	ServiceStopping ServiceStatus = "stopping"
	ServiceStopped  ServiceStatus = "stopped"
)

// SupervisorSnapshot describes the supervised worker at a point in time.
type SupervisorSnapshot struct {
	Status     ServiceStatus `json:"status"`
	Executable string        `json:"executable"`
	PIDs       []int32       `json:"pids"`
	Restarts   int           `json:"restarts"`
}
