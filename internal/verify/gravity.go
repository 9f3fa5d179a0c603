package verify

import (
	"math"
	"math/rand/v2"

	"github.com/udisondev/mcguard/internal/protocol"
)

// Gravity check reason keys.
const (
	ReasonIllegalGroundTransition = "illegal_ground_transition"
	ReasonWrongLandingHeight      = "wrong_landing_height"
	ReasonExceededFallTicks       = "exceeded_fall_ticks"
	ReasonUnexpectedYMotion       = "unexpected_y_motion"
)

// Limbo world constants shared by the physics checks.
const (
	platformY      = 64
	gravityDropGap = 10 // teleport height above the platform block
	heightEpsilon  = 0.1
)

// Platform block IDs the checks pick from (full solid cubes only, so the
// landing height is always platformY+1).
var platformBlocks = []int32{1, 3, 4, 5, 17} // stone, dirt, cobble, planks, log

// fallVelocity[k] is the expected Y delta on the (k+1)-th in-air tick for a
// freely falling vanilla client: v <- (v - 0.08) * 0.98 from v0 = 0. The
// running sum of this table is the absolute fall trajectory.
var fallVelocity = func() [20]float64 {
	var t [20]float64
	v := 0.0
	for i := range t {
		v = (v - 0.08) * 0.98
		t[i] = v
	}
	return t
}()

type gravityState struct {
	teleported    bool
	canFall       bool
	ticks         int
	platformY     int
	lastY         float64
	lastOnGround  bool
	platformBlock int32
}

// GravityCheck verifies that the client obeys vanilla fall kinematics after
// being dropped above a platform.
type GravityCheck struct {
	maxMovementTicks int
}

// NewGravityCheck builds the gravity check.
func NewGravityCheck(maxMovementTicks int) *GravityCheck {
	return &GravityCheck{maxMovementTicks: maxMovementTicks}
}

func (c *GravityCheck) Name() string { return "gravity" }

func (c *GravityCheck) Initialize(s *Session) {
	st := &gravityState{
		platformY:     platformY,
		platformBlock: platformBlocks[rand.IntN(len(platformBlocks))],
	}
	s.Put(c.Name(), st)

	spawnY := float64(st.platformY + gravityDropGap)
	st.lastY = spawnY

	s.SendPacket(protocol.JoinWorld{EntityID: rand.Int32(), Gamemode: 2})
	s.SendPacket(protocol.SpawnPosition{X: 0, Y: int32(st.platformY), Z: 0})
	s.SendPacket(protocol.TeleportAbsolute{X: 0, Y: spawnY, Z: 0, TeleportID: rand.Int32()})
}

func (c *GravityCheck) OnEvent(s *Session, ev protocol.Event) Result {
	pkt, ok := ev.(protocol.PlayerPosition)
	if !ok {
		return Pending
	}

	st, ok := c.state(s)
	if !ok {
		return Fail(ReasonInternal)
	}

	// The first position packet acknowledges the teleport; the fall starts
	// on the next one.
	if !st.teleported {
		st.teleported = true
		st.canFall = true
		st.lastY = pkt.Y
		st.lastOnGround = pkt.OnGround
		return Pending
	}

	if st.lastOnGround && !pkt.OnGround {
		return Fail(ReasonIllegalGroundTransition)
	}

	res := Pending
	switch {
	case pkt.OnGround:
		if math.Abs(pkt.Y-float64(st.platformY+1)) > heightEpsilon {
			return Fail(ReasonWrongLandingHeight)
		}
		res = Passed

	default:
		st.ticks++
		if st.ticks > c.maxMovementTicks {
			return Fail(ReasonExceededFallTicks)
		}
		if st.ticks <= len(fallVelocity) {
			predicted := st.lastY + fallVelocity[st.ticks-1]
			if math.Abs(pkt.Y-predicted) > heightEpsilon {
				return Fail(ReasonUnexpectedYMotion)
			}
		}
	}

	st.lastY = pkt.Y
	st.lastOnGround = pkt.OnGround
	return res
}

func (c *GravityCheck) Reset(s *Session) {
	s.Delete(c.Name())
}

func (c *GravityCheck) state(s *Session) (*gravityState, bool) {
	v, ok := s.Get(c.Name())
	if !ok {
		return nil, false
	}
	st, ok := v.(*gravityState)
	return st, ok
}
