package main

import (
	"strconv"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
	client "github.com/caarlos0/homekit-neohub"
)

// ZoneSensor exposes one zone as the homekit sensor matching its
// device class.
type ZoneSensor struct {
	*accessory.A
	Kind    zoneKind
	Motion  *service.MotionSensor
	Contact *service.ContactSensor
	Smoke   *service.SmokeSensor
	Leak    *service.LeakSensor

	sessionID string
	zone      int
}

func newZoneSensor(info accessory.Info, sessionID string, zone client.Zone) *ZoneSensor {
	a := &ZoneSensor{
		Kind:      sensorKind(zone.DeviceClass),
		sessionID: sessionID,
		zone:      zone.Number,
	}
	a.A = accessory.New(info, accessory.TypeSensor)

	switch a.Kind {
	case kindMotion:
		a.Motion = service.NewMotionSensor()
		a.AddS(a.Motion.S)
	case kindSmoke:
		a.Smoke = service.NewSmokeSensor()
		a.AddS(a.Smoke.S)
	case kindLeak:
		a.Leak = service.NewLeakSensor()
		a.AddS(a.Leak.S)
	default:
		a.Contact = service.NewContactSensor()
		a.AddS(a.Contact.S)
	}

	a.Update(zone.Open)
	return a
}

func (a *ZoneSensor) Update(open bool) {
	zoneOpenGauge.
		WithLabelValues(a.sessionID, strconv.Itoa(a.zone)).
		Set(boolAs[float64](open))

	switch a.Kind {
	case kindMotion:
		if a.Motion.MotionDetected.Value() != open {
			a.Motion.MotionDetected.SetValue(open)
			log.Info("motion", "session", a.sessionID, "zone", a.zone, "detected", open)
		}
	case kindSmoke:
		if v := boolAs[int](open); a.Smoke.SmokeDetected.Value() != v {
			_ = a.Smoke.SmokeDetected.SetValue(v)
			log.Info("smoke", "session", a.sessionID, "zone", a.zone, "detected", open)
		}
	case kindLeak:
		if v := boolAs[int](open); a.Leak.LeakDetected.Value() != v {
			_ = a.Leak.LeakDetected.SetValue(v)
			log.Info("leak", "session", a.sessionID, "zone", a.zone, "detected", open)
		}
	default:
		if v := boolAs[int](open); a.Contact.ContactSensorState.Value() != v {
			_ = a.Contact.ContactSensorState.SetValue(v)
			log.Info("contact", "session", a.sessionID, "zone", a.zone, "open", open)
		}
	}
}

func boolAs[T int | float64](b bool) T {
	if b {
		return 1
	}
	return 0
}
