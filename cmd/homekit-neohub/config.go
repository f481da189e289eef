package main

import (
	"github.com/brutella/hap/characteristic"
	client "github.com/caarlos0/homekit-neohub"
)

type Config struct {
	Host        string `env:"HOST,notEmpty"`
	Port        int    `env:"PORT"         envDefault:"8080"`
	SSL         bool   `env:"SSL"`
	AccessToken string `env:"ACCESS_TOKEN"`
	Code        string `env:"CODE"`
	Address     string `env:"LISTEN"       envDefault:":8123"`
}

type zoneKind uint8

const (
	kindContact = iota + 1
	kindMotion
	kindSmoke
	kindLeak
)

func (z zoneKind) String() string {
	switch z {
	case kindMotion:
		return "motion"
	case kindSmoke:
		return "smoke"
	case kindLeak:
		return "leak"
	default:
		return "contact"
	}
}

func sensorKind(dc client.DeviceClass) zoneKind {
	switch dc {
	case client.DeviceClassMotion:
		return kindMotion
	case client.DeviceClassSmoke:
		return kindSmoke
	case client.DeviceClassMoisture:
		return kindLeak
	default:
		return kindContact
	}
}

// homekit has no states for exit/entry delay, so those keep the last
// known state by returning -1.
func currentHapState(status client.ArmStatus) int {
	switch status {
	case client.StatusDisarmed:
		return characteristic.SecuritySystemCurrentStateDisarmed
	case client.StatusArmedAway:
		return characteristic.SecuritySystemCurrentStateAwayArm
	case client.StatusArmedStay:
		return characteristic.SecuritySystemCurrentStateStayArm
	case client.StatusArmedNight:
		return characteristic.SecuritySystemCurrentStateNightArm
	case client.StatusTriggered:
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	default:
		return -1
	}
}
