package verify

import (
	"math"
	"math/rand/v2"

	"github.com/udisondev/mcguard/internal/protocol"
)

// Vehicle check reason key.
const ReasonVehicleAnomaly = "vehicle_anomaly"

// Envelope for a non-interacting seated player. A real client in a boat
// drifts fractions of a block per tick; a bot replaying canned movement
// either teleports or holds perfectly still forever.
const (
	vehicleConformingTicks = 10
	vehicleMaxLateral      = 0.25
	vehicleMaxVertical     = 0.5
	vehicleTeleportSq      = 16.0 // blocks^2 per packet
)

type vehicleState struct {
	seated       bool
	lastX, lastY float64
	lastZ        float64
	conforming   int
}

// VehicleCheck seats the client in a boat and asserts its vehicle-movement
// packets stay within the drift envelope for N consecutive ticks.
type VehicleCheck struct{}

// NewVehicleCheck builds the vehicle check.
func NewVehicleCheck() *VehicleCheck { return &VehicleCheck{} }

func (c *VehicleCheck) Name() string { return "vehicle" }

func (c *VehicleCheck) Initialize(s *Session) {
	st := &vehicleState{}
	s.Put(c.Name(), st)

	vehicleID := rand.Int32()
	s.SendPacket(protocol.SpawnVehicle{EntityID: vehicleID, X: 0, Y: float64(platformY + 1), Z: 0})
	s.SendPacket(protocol.SetPassengers{VehicleID: vehicleID, Passenger: 0})
}

func (c *VehicleCheck) OnEvent(s *Session, ev protocol.Event) Result {
	pkt, ok := ev.(protocol.VehicleMove)
	if !ok {
		return Pending
	}

	st, ok := c.state(s)
	if !ok {
		return Fail(ReasonInternal)
	}

	if !st.seated {
		st.seated = true
		st.lastX, st.lastY, st.lastZ = pkt.X, pkt.Y, pkt.Z
		return Pending
	}

	dx := pkt.X - st.lastX
	dy := pkt.Y - st.lastY
	dz := pkt.Z - st.lastZ
	st.lastX, st.lastY, st.lastZ = pkt.X, pkt.Y, pkt.Z

	if dx*dx+dy*dy+dz*dz >= vehicleTeleportSq ||
		math.Abs(dx) > vehicleMaxLateral ||
		math.Abs(dz) > vehicleMaxLateral ||
		math.Abs(dy) > vehicleMaxVertical {
		return Fail(ReasonVehicleAnomaly)
	}

	st.conforming++
	if st.conforming >= vehicleConformingTicks {
		return Passed
	}
	return Pending
}

func (c *VehicleCheck) Reset(s *Session) {
	s.Delete(c.Name())
}

func (c *VehicleCheck) state(s *Session) (*vehicleState, bool) {
	v, ok := s.Get(c.Name())
	if !ok {
		return nil, false
	}
	st, ok := v.(*vehicleState)
	return st, ok
}
