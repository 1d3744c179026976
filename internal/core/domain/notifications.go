package domain

// Server-pushed notification methods.
const (
	NotifyNewProducersToConsume = "newProducersToConsume"
	NotifyUpdateActiveSpeakers  = "updateActiveSpeakers"
	NotifyUserLeft              = "userLeft"
	NotifyUserDisconnected      = "userDisconnected"
)

type NewProducersToConsume struct {
	Capabilities        RTPCapabilities `json:"capabilities"`
	AudioIDsToSubscribe []ProducerID    `json:"audioIdsToSubscribe"`
	VideoIDsToSubscribe []ProducerID    `json:"videoIdsToSubscribe"`
	DisplayNames        []string        `json:"displayNames"`
	ActiveSpeakers      []ProducerID    `json:"activeSpeakers"`
}

type ActiveSpeakersUpdate struct {
	ActiveSpeakers []ProducerID `json:"activeSpeakers"`
}

type ParticipantLeft struct {
	UserName       string       `json:"userName"`
	ActiveSpeakers []ProducerID `json:"activeSpeakers"`
}
