package sysmsg

// Faulted is posted to the parent supervisor when a children group or a
// nested supervisor fails: its restart window overflowed under an escalate
// policy, or its own event loop panicked. Single child panics and escaped
// errors are handled inside the owning group. It never crosses more than one
// level per hop, exhaustion escalates explicitly with a fresh Faulted.
type Faulted struct {
	// Who is the path of the actor that faulted
	Who string
	// Generation of the faulted actor at the time of the fault
	Generation uint64
	// Reason behind the fault
	Reason Reason
}

func (f Faulted) systemMessage() {}

// Stopped notifies the parent that a subtree stopped cleanly, including a
// supervisor that stopped itself after exhausting its restart window with
// an on-exhaustion policy of stop.
type Stopped struct {
	Who    string
	Reason Reason
}

func (s Stopped) systemMessage() {}

// Stop commands an actor to drain its mailbox and terminate cleanly.
type Stop struct {
	// Parent is the path of the commanding supervisor
	Parent string
}

func (s Stop) systemMessage() {}

// Kill commands an actor to terminate without draining.
type Kill struct {
	Parent string
}

func (k Kill) systemMessage() {}
