// Package widget serves the WebSocket channel between the in-browser relay
// and the per-tab controller.
package widget

import (
	"encoding/json"
	"fmt"

	"github.com/ashureev/tellerbot/internal/domain"
	"github.com/ashureev/tellerbot/internal/engine"
	"github.com/ashureev/tellerbot/internal/flags"
	"github.com/ashureev/tellerbot/internal/speech"
)

// Inbound frame types (relay to server).
const (
	TypeUserText       = "user_text"
	TypeVoiceToggle    = "voice_toggle"
	TypeCollapse       = "collapse"
	TypeSpeechResult   = "speech_result"
	TypeSpeechEnd      = "speech_end"
	TypeSpeechError    = "speech_error"
	TypeUtteranceStart = "utterance_start"
	TypeUtteranceEnd   = "utterance_end"
	TypeHostLog        = "host_log"
	TypeFormChange     = "form_change"
	TypeFormSnapshot   = "form_snapshot"
	TypeLogout         = "logout"
	TypePing           = "ping"
)

// Outbound frame types (server to relay).
const (
	TypeReady       = "ready"
	TypeMessage     = "message"
	TypeSpeak       = "speak"
	TypeRecognition = "recognition"
	TypeHost        = "host"
	TypeNotify      = "notify"
	TypeStatus      = "status"
	TypeCollapsed   = "collapsed"
	TypePong        = "pong"
)

// Recognition commands.
const (
	RecognitionStart = "start"
	RecognitionAbort = "abort"
)

// Inbound is any frame sent by the relay. Only the fields of its Type are set.
type Inbound struct {
	Type       string            `json:"type"`
	Text       string            `json:"text,omitempty"`
	On         bool              `json:"on,omitempty"`
	Collapsed  bool              `json:"collapsed,omitempty"`
	Transcript string            `json:"transcript,omitempty"`
	Error      string            `json:"error,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Accessible bool              `json:"accessible,omitempty"`
}

// DecodeInbound parses one text frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return Inbound{}, fmt.Errorf("decode frame: missing type")
	}
	return msg, nil
}

// Snapshot converts a form frame into an extractor snapshot.
func (m Inbound) Snapshot() flags.Snapshot {
	return flags.Snapshot{Fields: m.Fields, Accessible: m.Accessible}
}

type readyFrame struct {
	Type string `json:"type"`
	engine.ReadyInfo
}

type messageFrame struct {
	Type    string      `json:"type"`
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

type speakFrame struct {
	Type string `json:"type"`
	speech.Utterance
}

type recognitionFrame struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

type hostFrame struct {
	Type    string             `json:"type"`
	Message domain.HostMessage `json:"message"`
}

type notifyFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type statusFrame struct {
	Type    string `json:"type"`
	Offline bool   `json:"offline"`
}

type collapsedFrame struct {
	Type      string `json:"type"`
	Collapsed bool   `json:"collapsed"`
}

type pongFrame struct {
	Type string `json:"type"`
}

// Dispatch routes one inbound frame to the controller. It must run on the
// controller's loop. It reports false for unknown frame types.
func Dispatch(ctrl *engine.Controller, msg Inbound) bool {
	switch msg.Type {
	case TypeUserText:
		ctrl.SubmitText(msg.Text)
	case TypeVoiceToggle:
		ctrl.ToggleVoice(msg.On)
	case TypeCollapse:
		ctrl.SetCollapsed(msg.Collapsed)
	case TypeSpeechResult:
		ctrl.SpeechResult(msg.Transcript)
	case TypeSpeechEnd:
		ctrl.SpeechEnded()
	case TypeSpeechError:
		ctrl.SpeechError(msg.Error)
	case TypeUtteranceStart:
		ctrl.UtteranceStarted()
	case TypeUtteranceEnd:
		ctrl.UtteranceEnded()
	case TypeHostLog:
		ctrl.HostLog(domain.HostMessage{Instruction: domain.InstructionLog, Text: msg.Text})
	case TypeFormChange:
		ctrl.FormChange(msg.Snapshot())
	case TypeFormSnapshot:
		ctrl.FormSnapshot(msg.Snapshot())
	case TypeLogout:
		ctrl.Logout()
	default:
		return false
	}
	return true
}
