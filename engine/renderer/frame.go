package renderer

// FrameState is the position of the render loop within one frame.
type FrameState uint8

const (
	FrameStateIdle FrameState = iota
	// Waiting for the GPU to release the frame slot.
	FrameStateWaiting
	FrameStateRecording
	FrameStateSubmitted
	FrameStatePresented
)

func (s FrameState) String() string {
	switch s {
	case FrameStateIdle:
		return "idle"
	case FrameStateWaiting:
		return "waiting"
	case FrameStateRecording:
		return "recording"
	case FrameStateSubmitted:
		return "submitted"
	case FrameStatePresented:
		return "presented"
	}
	return "unknown"
}
