package domain

// Instructions understood by the host page script.
const (
	InstructionHighlight     = "highlight"
	InstructionMarkComplete  = "mark-complete"
	InstructionSendAssistant = "sendAssistant"
	InstructionLog           = "log"
)

// HostMessage is the postMessage payload exchanged with the host page.
// Action instructions ("fill", "click", "select", ...) reuse the same shape.
type HostMessage struct {
	Selector    string `json:"selector,omitempty"`
	Instruction string `json:"instruction"`
	Value       any    `json:"value,omitempty"`
	Assistant   string `json:"assistant,omitempty"`
	Text        string `json:"text,omitempty"`
}
