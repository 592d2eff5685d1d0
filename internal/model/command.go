package model

type CommandStatus string

const (
	CommandSuccess   CommandStatus = "SUCCESS"
	CommandFailed    CommandStatus = "FAILED"
	CommandHeartbeat CommandStatus = "HEARTBEAT"
)

func (s CommandStatus) Terminal() bool {
	return s == CommandSuccess || s == CommandFailed
}

type DeviceCommand struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

type CommandAck struct {
	MessageID string `json:"message_id"`
}

type CommandStatusEvent struct {
	MessageID string        `json:"message_id,omitempty"`
	Status    CommandStatus `json:"status"`
	Detail    string        `json:"detail,omitempty"`
}
