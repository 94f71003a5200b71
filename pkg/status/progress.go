package status

// Progress is returned as a struct so that wrappers can summarize the
// current status without parsing log output.
type Progress struct {
	CurrentState State  // i.e. Polling
	Summary      string // i.e. "polling: 2 tables still replicating after 14 checks"
}
