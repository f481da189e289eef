package neohub

const (
	msgFullState       = "full_state"
	msgPartitionUpdate = "partition_update"
	msgZoneUpdate      = "zone_update"
	msgError           = "error"

	msgGetFullState = "get_full_state"
	msgArmAway      = "arm_away"
	msgArmHome      = "arm_home"
	msgArmNight     = "arm_night"
	msgDisarm       = "disarm"
)

// every frame carries a type field, the rest depends on it.
type envelope struct {
	Type string `json:"type"`
}

type fullStateMessage struct {
	Type     string    `json:"type"`
	Sessions []Session `json:"sessions"`
}

// PartitionUpdate is an incremental status change for one partition.
type PartitionUpdate struct {
	SessionID       string    `json:"session_id"`
	PartitionNumber int       `json:"partition_number"`
	Status          ArmStatus `json:"status"`
}

type partitionUpdateMessage struct {
	Type string `json:"type"`
	PartitionUpdate
}

// ZoneUpdate is an incremental open/closed change for one zone.
type ZoneUpdate struct {
	SessionID  string `json:"session_id"`
	ZoneNumber int    `json:"zone_number"`
	Open       bool   `json:"open"`
}

type zoneUpdateMessage struct {
	Type string `json:"type"`
	ZoneUpdate
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type getFullStateMessage struct {
	Type string `json:"type"`
}

// Code is null when the caller did not provide one. The hub decides
// whether a code is required, never the client.
type commandMessage struct {
	Type            string  `json:"type"`
	SessionID       string  `json:"session_id"`
	PartitionNumber int     `json:"partition_number"`
	Code            *string `json:"code"`
}

func makeCommand(typ, sessionID string, partition int, code string) commandMessage {
	cmd := commandMessage{
		Type:            typ,
		SessionID:       sessionID,
		PartitionNumber: partition,
	}
	if code != "" {
		cmd.Code = &code
	}
	return cmd
}
