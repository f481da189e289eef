package main

import (
	"net/http"
	"strconv"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	client "github.com/caarlos0/homekit-neohub"
)

// AlarmPanel exposes one partition of one session as a homekit
// security system.
type AlarmPanel struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem

	sessionID string
	partition int
}

func newAlarmPanel(
	info accessory.Info,
	cli *client.Client,
	cfg Config,
	sessionID string,
	partition int,
) *AlarmPanel {
	a := &AlarmPanel{
		sessionID: sessionID,
		partition: partition,
	}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)
	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = func(
		value interface{},
		_ *http.Request,
	) (response interface{}, code int) {
		var err error
		switch value.(int) {
		case characteristic.SecuritySystemTargetStateStayArm:
			log.Info("arm stay", "session", sessionID, "partition", partition)
			err = cli.ArmHome(sessionID, partition, cfg.Code)
		case characteristic.SecuritySystemTargetStateAwayArm:
			log.Info("arm away", "session", sessionID, "partition", partition)
			err = cli.ArmAway(sessionID, partition, cfg.Code)
		case characteristic.SecuritySystemTargetStateNightArm:
			log.Info("arm night", "session", sessionID, "partition", partition)
			err = cli.ArmNight(sessionID, partition, cfg.Code)
		case characteristic.SecuritySystemTargetStateDisarm:
			log.Info("disarm", "session", sessionID, "partition", partition)
			err = cli.Disarm(sessionID, partition, cfg.Code)
		default:
			return nil, hap.JsonStatusResourceDoesNotExist
		}
		commandCounter.Inc()
		if err != nil {
			commandErrorCounter.Inc()
			log.Error(
				"could not send command",
				"session", sessionID,
				"partition", partition,
				"err", err,
			)
			return nil, hap.JsonStatusResourceBusy
		}
		return nil, hap.JsonStatusSuccess
	}

	return a
}

func (a *AlarmPanel) Update(status client.ArmStatus) {
	state := currentHapState(status)
	partitionStateGauge.
		WithLabelValues(a.sessionID, strconv.Itoa(a.partition)).
		Set(float64(state))
	if state < 0 {
		return
	}
	if a.SecuritySystem.SecuritySystemCurrentState.Value() != state {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(state)
		log.Info(
			"set current state",
			"session", a.sessionID,
			"partition", a.partition,
			"state", state,
			"err", err,
		)
	}
}
