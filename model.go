package neohub

// ArmStatus is the arming status of a partition as reported by the hub.
type ArmStatus string

const (
	StatusDisarmed   ArmStatus = "disarmed"
	StatusArmedAway  ArmStatus = "armed_away"
	StatusArmedStay  ArmStatus = "armed_stay"
	StatusArmedNight ArmStatus = "armed_night"
	StatusExitDelay  ArmStatus = "exit_delay"
	StatusEntryDelay ArmStatus = "entry_delay"
	StatusTriggered  ArmStatus = "triggered"
)

func (s ArmStatus) String() string { return string(s) }

// Armed reports whether the partition is in any of the armed states.
func (s ArmStatus) Armed() bool {
	switch s {
	case StatusArmedAway, StatusArmedStay, StatusArmedNight:
		return true
	default:
		return false
	}
}

// DeviceClass is the kind of sensor behind a zone.
type DeviceClass string

const (
	DeviceClassDoor      DeviceClass = "door"
	DeviceClassWindow    DeviceClass = "window"
	DeviceClassMotion    DeviceClass = "motion"
	DeviceClassSmoke     DeviceClass = "smoke"
	DeviceClassGas       DeviceClass = "gas"
	DeviceClassMoisture  DeviceClass = "moisture"
	DeviceClassVibration DeviceClass = "vibration"
	DeviceClassSafety    DeviceClass = "safety"
)

func (d DeviceClass) String() string { return string(d) }

// Session is one panel connected to the hub, with its partitions and
// zones as of the last full state message.
type Session struct {
	ID         string      `json:"session_id"`
	Name       string      `json:"name"`
	Partitions []Partition `json:"partitions"`
	Zones      []Zone      `json:"zones"`
}

// Partition is an independently armable area of a panel.
type Partition struct {
	Number int       `json:"partition_number"`
	Name   string    `json:"name"`
	Status ArmStatus `json:"status"`
}

// Zone is a single sensor point. A zone may belong to any number of
// partitions, or to none.
type Zone struct {
	Number      int         `json:"zone_number"`
	Name        string      `json:"name"`
	DeviceClass DeviceClass `json:"device_class"`
	Open        bool        `json:"open"`
	Partitions  []int       `json:"partitions"`
}

// State is the last known state of every session, keyed by session id.
type State map[string]Session

// Session returns the session with the given id, if known.
func (s State) Session(id string) (Session, bool) {
	sess, ok := s[id]
	return sess, ok
}

// Partition returns the given partition of the given session, if known.
func (s State) Partition(sessionID string, number int) (Partition, bool) {
	sess, ok := s[sessionID]
	if !ok {
		return Partition{}, false
	}
	for _, part := range sess.Partitions {
		if part.Number == number {
			return part, true
		}
	}
	return Partition{}, false
}

// Zone returns the given zone of the given session, if known.
func (s State) Zone(sessionID string, number int) (Zone, bool) {
	sess, ok := s[sessionID]
	if !ok {
		return Zone{}, false
	}
	for _, zone := range sess.Zones {
		if zone.Number == number {
			return zone, true
		}
	}
	return Zone{}, false
}
