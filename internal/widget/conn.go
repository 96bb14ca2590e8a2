package widget

import (
	"encoding/json"
	"log/slog"

	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/engine"
	"github.com/ashureev/tellerbot/internal/speech"
)

// outbox implements every controller port by queueing JSON frames for the
// connection's writer goroutine.
type outbox struct {
	frames   chan []byte
	overflow func()
	logger   *slog.Logger
}

func newOutbox(size int, overflow func(), logger *slog.Logger) *outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &outbox{frames: make(chan []byte, size), overflow: overflow, logger: logger}
}

func (o *outbox) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("Failed to encode frame", "error", err)
		return
	}
	select {
	case o.frames <- data:
	default:
		// A relay this far behind is gone; drop the connection rather than block the loop.
		o.logger.Warn("Outbound queue full, closing connection")
		if o.overflow != nil {
			o.overflow()
		}
	}
}

func (o *outbox) Ready(info engine.ReadyInfo) {
	o.send(readyFrame{Type: TypeReady, ReadyInfo: info})
}

func (o *outbox) Render(turn domain.Turn) {
	o.send(messageFrame{Type: TypeMessage, Role: turn.Role, Content: turn.Content})
}

func (o *outbox) Status(offline bool) {
	o.send(statusFrame{Type: TypeStatus, Offline: offline})
}

func (o *outbox) Collapse(collapsed bool) {
	o.send(collapsedFrame{Type: TypeCollapsed, Collapsed: collapsed})
}

func (o *outbox) PostHost(msg domain.HostMessage) {
	o.send(hostFrame{Type: TypeHost, Message: msg})
}

func (o *outbox) Start() {
	o.send(recognitionFrame{Type: TypeRecognition, Command: RecognitionStart})
}

func (o *outbox) Abort() {
	o.send(recognitionFrame{Type: TypeRecognition, Command: RecognitionAbort})
}

func (o *outbox) Speak(u speech.Utterance) {
	o.send(speakFrame{Type: TypeSpeak, Utterance: u})
}

func (o *outbox) Notify(text string) {
	o.send(notifyFrame{Type: TypeNotify, Text: text})
}

func (o *outbox) pong() {
	o.send(pongFrame{Type: TypePong})
}

func (o *outbox) ports() engine.Ports {
	return engine.Ports{View: o, Host: o, Recognizer: o, Synthesizer: o, Notifier: o}
}
