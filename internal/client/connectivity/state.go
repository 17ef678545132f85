package connectivity

// State is the connectivity/session signal consumed by the outbox.
type State struct {
	Online        bool // Online соединение с сервером установлено
	Authenticated bool // Authenticated есть действующая сессия
}

// Usable reports whether queued operations may be submitted.
func (s State) Usable() bool {
	return s.Online && s.Authenticated
}

func (s State) String() string {
	switch {
	case s.Usable():
		return "online"
	case s.Online:
		return "online (not authenticated)"
	case s.Authenticated:
		return "offline"
	default:
		return "offline (not authenticated)"
	}
}
