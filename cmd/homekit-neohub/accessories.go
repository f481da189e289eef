package main

import (
	"fmt"

	"github.com/brutella/hap/accessory"
	client "github.com/caarlos0/homekit-neohub"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Accessories indexes every bridged accessory by session and number so
// incremental updates find their target without scanning.
type Accessories struct {
	panels  map[string]map[int]*AlarmPanel
	sensors map[string]map[int]*ZoneSensor
}

// buildAccessories creates one panel per partition and one sensor per
// zone of the given state. Accessory ids are assigned in session and
// number order, so they are stable as long as the hub configuration is.
func buildAccessories(
	cli *client.Client,
	cfg Config,
	state client.State,
) (*Accessories, []*accessory.A) {
	acc := &Accessories{
		panels:  map[string]map[int]*AlarmPanel{},
		sensors: map[string]map[int]*ZoneSensor{},
	}
	var all []*accessory.A
	var id uint64 = 2

	sessionIDs := maps.Keys(state)
	slices.Sort(sessionIDs)
	for _, sid := range sessionIDs {
		sess := state[sid]
		acc.panels[sid] = map[int]*AlarmPanel{}
		acc.sensors[sid] = map[int]*ZoneSensor{}

		partitions := append([]client.Partition(nil), sess.Partitions...)
		slices.SortFunc(partitions, func(a, b client.Partition) int {
			return a.Number - b.Number
		})
		for _, part := range partitions {
			name := part.Name
			if name == "" {
				name = fmt.Sprintf("Partition %d", part.Number)
			}
			panel := newAlarmPanel(accessory.Info{
				Name:         name,
				SerialNumber: fmt.Sprintf("%s-p%d", sid, part.Number),
				Manufacturer: manufacturer,
				Model:        sess.Name,
			}, cli, cfg, sid, part.Number)
			panel.Id = id
			id++
			panel.Update(part.Status)
			acc.panels[sid][part.Number] = panel
			all = append(all, panel.A)
		}

		zones := append([]client.Zone(nil), sess.Zones...)
		slices.SortFunc(zones, func(a, b client.Zone) int {
			return a.Number - b.Number
		})
		for _, zone := range zones {
			name := zone.Name
			if name == "" {
				name = fmt.Sprintf("Zone %d", zone.Number)
			}
			sensor := newZoneSensor(accessory.Info{
				Name:         name,
				SerialNumber: fmt.Sprintf("%s-z%d", sid, zone.Number),
				Manufacturer: manufacturer,
				Model:        zone.DeviceClass.String(),
			}, sid, zone)
			sensor.Id = id
			id++
			acc.sensors[sid][zone.Number] = sensor
			all = append(all, sensor.A)
		}
	}
	return acc, all
}

// UpdateAll refreshes every accessory from a full state snapshot.
// Accessories are fixed at startup: sessions or entities that appear
// later are logged and need a restart to be bridged.
func (a *Accessories) UpdateAll(state client.State) {
	for sid, panels := range a.panels {
		if _, ok := state.Session(sid); !ok {
			log.Warn("session is gone from the hub, restart to drop it", "session", sid)
			continue
		}
		for number, panel := range panels {
			if part, ok := state.Partition(sid, number); ok {
				panel.Update(part.Status)
			}
		}
		for number, sensor := range a.sensors[sid] {
			if zone, ok := state.Zone(sid, number); ok {
				sensor.Update(zone.Open)
			}
		}
	}
	for sid := range state {
		if _, ok := a.panels[sid]; !ok {
			log.Warn("new session on the hub, restart to bridge it", "session", sid)
		}
	}
}

func (a *Accessories) UpdatePartition(up client.PartitionUpdate) {
	if panel := a.panels[up.SessionID][up.PartitionNumber]; panel != nil {
		panel.Update(up.Status)
	}
}

func (a *Accessories) UpdateZone(up client.ZoneUpdate) {
	if sensor := a.sensors[up.SessionID][up.ZoneNumber]; sensor != nil {
		sensor.Update(up.Open)
	}
}
