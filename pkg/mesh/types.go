package mesh

import (
	"encoding/json"
	"time"
)

// PortNum identifies the application payload carried by a packet.
type PortNum int32

const (
	PortUnknown      PortNum = 0
	PortText         PortNum = 1
	PortPosition     PortNum = 3
	PortNodeInfo     PortNum = 4
	PortTelemetry    PortNum = 67
	PortTraceroute   PortNum = 70
	PortNeighborInfo PortNum = 71
)

// Packet is the already-decoded envelope of a mesh packet.
type Packet struct {
	ID       uint32          `json:"id"`
	From     uint32          `json:"from"`
	To       uint32          `json:"to"`
	Channel  uint32          `json:"channel,omitempty"`
	RxTime   time.Time       `json:"rx_time,omitempty"`
	RxSNR    float32         `json:"rx_snr,omitempty"`
	RxRSSI   int32           `json:"rx_rssi,omitempty"`
	HopLimit uint32          `json:"hop_limit,omitempty"`
	PortNum  PortNum         `json:"port_num"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NeighborInfo is the payload of a NEIGHBORINFO_APP packet: the peers the
// reporting node hears directly.
type NeighborInfo struct {
	NodeID                    uint32     `json:"node_id"`
	LastSentByID              uint32     `json:"last_sent_by_id,omitempty"`
	NodeBroadcastIntervalSecs uint32     `json:"node_broadcast_interval_secs,omitempty"`
	Neighbors                 []Neighbor `json:"neighbors"`
}

// Neighbor is one entry of a NeighborInfo report.
type Neighbor struct {
	NodeID                    uint32  `json:"node_id"`
	SNR                       float32 `json:"snr"`
	LastRxTime                uint32  `json:"last_rx_time,omitempty"` // unix seconds
	NodeBroadcastIntervalSecs uint32  `json:"node_broadcast_interval_secs,omitempty"`
}

// NodeInfo is the payload of a NODEINFO_APP packet.
type NodeInfo struct {
	Num       uint32    `json:"num"`
	User      *User     `json:"user,omitempty"`
	Position  *Position `json:"position,omitempty"`
	SNR       float32   `json:"snr,omitempty"`
	LastHeard uint32    `json:"last_heard,omitempty"`
	HopsAway  uint32    `json:"hops_away,omitempty"`
}

// User describes the owner of a node.
type User struct {
	ID        string `json:"id"`
	LongName  string `json:"long_name"`
	ShortName string `json:"short_name"`
	HwModel   string `json:"hw_model,omitempty"`
}

// Position is a geographic fix. Coordinates are fixed point, 1e-7 degrees.
type Position struct {
	LatitudeI  int32  `json:"latitude_i"`
	LongitudeI int32  `json:"longitude_i"`
	Altitude   int32  `json:"altitude,omitempty"`
	Time       uint32 `json:"time,omitempty"`
}

// Latitude returns the latitude in degrees.
func (p Position) Latitude() float64 {
	return float64(p.LatitudeI) * 1e-7
}

// Longitude returns the longitude in degrees.
func (p Position) Longitude() float64 {
	return float64(p.LongitudeI) * 1e-7
}
