package realtime

import "fmt"

// EventID identifies what a frame means.
type EventID uint32

// Client events.
const (
	EventStartConnection  EventID = 1
	EventFinishConnection EventID = 2
	EventStartSession     EventID = 100
	EventFinishSession    EventID = 102
	EventTaskRequest      EventID = 200
	EventSayHello         EventID = 300
	EventChatTTSText      EventID = 500
	EventChatTextQuery    EventID = 501
)

// Server events.
const (
	EventConnectionStarted  EventID = 50
	EventConnectionFailed   EventID = 51
	EventConnectionFinished EventID = 52
	EventSessionStarted     EventID = 150
	EventSessionFinished    EventID = 152
	EventSessionFailed      EventID = 153
	EventUsageResponse      EventID = 154
	EventTTSSentenceStart   EventID = 350
	EventTTSSentenceEnd     EventID = 351
	EventTTSResponse        EventID = 352
	EventTTSEnded           EventID = 359
	EventASRInfo            EventID = 450
	EventASRResponse        EventID = 451
	EventASREnded           EventID = 459
	EventChatResponse       EventID = 550
	EventChatEnded          EventID = 559
)

// IsSessionScoped reports whether frames with this event carry a session id.
func (e EventID) IsSessionScoped() bool {
	return e >= 100 && e < 600
}

// IsConnectionScoped reports whether frames with this event carry a connect
// id. Only the server's connection lifecycle events do.
func (e EventID) IsConnectionScoped() bool {
	return e == EventConnectionStarted || e == EventConnectionFailed || e == EventConnectionFinished
}

var eventNames = map[EventID]string{
	EventStartConnection:    "StartConnection",
	EventFinishConnection:   "FinishConnection",
	EventStartSession:       "StartSession",
	EventFinishSession:      "FinishSession",
	EventTaskRequest:        "TaskRequest",
	EventSayHello:           "SayHello",
	EventChatTTSText:        "ChatTTSText",
	EventChatTextQuery:      "ChatTextQuery",
	EventConnectionStarted:  "ConnectionStarted",
	EventConnectionFailed:   "ConnectionFailed",
	EventConnectionFinished: "ConnectionFinished",
	EventSessionStarted:     "SessionStarted",
	EventSessionFinished:    "SessionFinished",
	EventSessionFailed:      "SessionFailed",
	EventUsageResponse:      "UsageResponse",
	EventTTSSentenceStart:   "TTSSentenceStart",
	EventTTSSentenceEnd:     "TTSSentenceEnd",
	EventTTSResponse:        "TTSResponse",
	EventTTSEnded:           "TTSEnded",
	EventASRInfo:            "ASRInfo",
	EventASRResponse:        "ASRResponse",
	EventASREnded:           "ASREnded",
	EventChatResponse:       "ChatResponse",
	EventChatEnded:          "ChatEnded",
}

func (e EventID) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Event(%d)", uint32(e))
}
