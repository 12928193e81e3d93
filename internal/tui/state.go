package tui

// InputSize is the height state of the input box. It is compressed while
// the chat is empty and no response is in flight, expanded otherwise.
type InputSize int

const (
	InputCompressed InputSize = iota
	InputExpanded
)

func (s InputSize) String() string {
	if s == InputExpanded {
		return "expanded"
	}
	return "compressed"
}

// Lines is the textarea height for the state.
func (s InputSize) Lines() int {
	if s == InputExpanded {
		return 3
	}
	return 1
}

// InputEvent drives InputSize transitions.
type InputEvent int

const (
	// InputSubmitted: a message was sent and a response is in flight.
	InputSubmitted InputEvent = iota
	// InputResponseDone: the response finished or failed.
	InputResponseDone
	// InputCleared: the transcript was reset.
	InputCleared
	// InputLoaded: a saved session replaced the transcript.
	InputLoaded
)

// Next returns the state after e. turns is the transcript length once the
// event has been applied.
func (s InputSize) Next(e InputEvent, turns int) InputSize {
	switch e {
	case InputSubmitted:
		return InputExpanded
	case InputResponseDone, InputLoaded:
		if turns == 0 {
			return InputCompressed
		}
		return InputExpanded
	case InputCleared:
		return InputCompressed
	}
	return s
}

// MicState is the microphone toggle. Capturing audio is left to the host;
// the model only tracks whether recording is on.
type MicState int

const (
	MicIdle MicState = iota
	MicRecording
)

func (s MicState) String() string {
	if s == MicRecording {
		return "recording"
	}
	return "idle"
}

// MicEvent drives MicState transitions.
type MicEvent int

const (
	// MicToggled: the record key was pressed.
	MicToggled MicEvent = iota
	// MicSubmitted: a message was sent, which ends any recording.
	MicSubmitted
)

// Next returns the state after e.
func (s MicState) Next(e MicEvent) MicState {
	switch e {
	case MicToggled:
		if s == MicRecording {
			return MicIdle
		}
		return MicRecording
	case MicSubmitted:
		return MicIdle
	}
	return s
}
