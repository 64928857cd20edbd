package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode uint16

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Keyboard key pressed.
	/* Context usage:
	 * u16 key_code = data.U16[0];
	 */
	EVENT_CODE_KEY_PRESSED SystemEventCode = 0x02

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * u32 width = data.U32[0];
	 * u32 height = data.U32[1];
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// Configuration file changed on disk and was reloaded.
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x09

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	U16 [8]uint16
	U32 [4]uint32
	F32 [4]float32
	C   string
}

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

type eventSystemState struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

var eventState *eventSystemState

func EventInitialize() bool {
	if eventState != nil {
		return false
	}
	eventState = &eventSystemState{
		registered: make(map[SystemEventCode][]registeredEvent),
	}
	return true
}

func EventShutdown() error {
	eventState = nil
	return nil
}

// EventRegister subscribes listener to code. A listener can only be registered
// once per code; duplicates return false.
func EventRegister(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if eventState == nil || onEvent == nil {
		return false
	}
	eventState.mu.Lock()
	defer eventState.mu.Unlock()

	for _, e := range eventState.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	eventState.registered[code] = append(eventState.registered[code], registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

func EventUnregister(code SystemEventCode, listener interface{}) bool {
	if eventState == nil {
		return false
	}
	eventState.mu.Lock()
	defer eventState.mu.Unlock()

	events := eventState.registered[code]
	for i, e := range events {
		if e.listener == listener {
			eventState.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// EventFire delivers data to the listeners of code in registration order. A
// listener returning true stops the propagation.
func EventFire(code SystemEventCode, sender interface{}, data EventContext) bool {
	if eventState == nil {
		return false
	}
	eventState.mu.RLock()
	events := append([]registeredEvent(nil), eventState.registered[code]...)
	eventState.mu.RUnlock()

	for _, e := range events {
		if e.callback(code, sender, e.listener, data) {
			return true
		}
	}
	return false
}
