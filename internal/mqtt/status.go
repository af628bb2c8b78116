package mqtt

// Status is the outcome code reported for an inbound message or a payload
// field. Values are the wire names used on response topics.
type Status string

const (
	StatusPreProcessing           Status = "preProcessing"
	StatusNoPayload               Status = "noMQTTPayload"
	StatusInvalidPayload          Status = "invalidMQTTPayload"
	StatusSetOpenSuccess          Status = "setOpenSuccess"
	StatusSetStopSuccess          Status = "setStopSuccess"
	StatusSetCloseSuccess         Status = "setCloseSuccess"
	StatusPayloadExceededCapacity Status = "payloadExceededCapacity"
	StatusAddedToPayload          Status = "addedToPayload"
	StatusNotValidIncomingTopic   Status = "notValidIncomingTopic"
)

// Description is a human readable explanation of the status.
func (s Status) Description() string {
	switch s {
	case StatusPreProcessing:
		return "message received, not yet processed"
	case StatusNoPayload:
		return "no payload in message"
	case StatusInvalidPayload:
		return "payload could not be parsed"
	case StatusSetOpenSuccess:
		return "door open command accepted"
	case StatusSetStopSuccess:
		return "door stop command accepted"
	case StatusSetCloseSuccess:
		return "door close command accepted"
	case StatusPayloadExceededCapacity:
		return "field would exceed the maximum payload size"
	case StatusAddedToPayload:
		return "field added to payload"
	case StatusNotValidIncomingTopic:
		return "topic is not handled by this device"
	}
	return string(s)
}
