package status

import "fmt"

// Status is the user-facing connection health.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusOffline      Status = "offline"
)

// View is what the presentation layer reads.
type View struct {
	Status        Status
	Attempts      int
	LastHeartbeat int64
}

// Label renders the view the way the status bar shows it.
func (v View) Label() string {
	if v.Status == StatusReconnecting && v.Attempts > 0 {
		return fmt.Sprintf("reconnecting (%d)", v.Attempts)
	}
	return string(v.Status)
}

// Project maps a connection record to its presentation view.
// A Connecting state that follows a failure still reads as reconnecting.
func Project(s ConnectionState) View {
	v := View{Attempts: s.Attempts, LastHeartbeat: s.LastHeartbeat}
	switch {
	case s.State == Connected:
		v.Status = StatusConnected
	case s.State == Reconnecting, s.State == Connecting && s.Attempts > 0:
		v.Status = StatusReconnecting
	default:
		v.Status = StatusOffline
	}
	return v
}

// Model is a read-only projection of a Machine.
type Model struct {
	machine *Machine
}

// NewModel creates a model over m.
func NewModel(m *Machine) *Model {
	return &Model{machine: m}
}

// Snapshot returns the current view.
func (md *Model) Snapshot() View {
	return Project(md.machine.Snapshot())
}
