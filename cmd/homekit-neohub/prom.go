package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "homekit_neohub",
	Subsystem:   "hub",
	Name:        "connected",
	Help:        "",
	ConstLabels: map[string]string{},
})

var partitionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_neohub",
	Subsystem:   "alarm",
	Name:        "partition_state",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"session", "partition"})

var zoneOpenGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_neohub",
	Subsystem:   "alarm",
	Name:        "zone_open",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"session", "zone"})

var commandCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "homekit_neohub",
	Subsystem:   "client",
	Name:        "commands_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var commandErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "homekit_neohub",
	Subsystem:   "client",
	Name:        "command_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var hubErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "homekit_neohub",
	Subsystem:   "hub",
	Name:        "errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
})
