package verify

import (
	"math"
	"math/rand/v2"

	"github.com/udisondev/mcguard/internal/protocol"
)

// Collision check reason keys.
const (
	ReasonCollisionWrongY = "collision_wrong_y"
	ReasonBelowPlatform   = "below_platform_not_on_ground"
	ReasonNotOnGround     = "not_on_ground"
)

const (
	collisionDropGap      = 5 // teleport height above the platform block
	collisionPlatformHalf = 2 // 5x5 platform: x,z in [-2,2]
)

type collisionState struct {
	teleported bool
	platformY  int
	blockType  int32
	lastY      float64
	onGround   bool
}

// CollisionCheck drops the client onto a 5x5 block platform and verifies it
// collides with it instead of clipping through. Its final assertion requires
// the client to still be standing when the session completes.
type CollisionCheck struct{}

// NewCollisionCheck builds the collision check.
func NewCollisionCheck() *CollisionCheck { return &CollisionCheck{} }

func (c *CollisionCheck) Name() string { return "collision" }

func (c *CollisionCheck) Initialize(s *Session) {
	st := &collisionState{
		platformY: platformY,
		blockType: platformBlocks[rand.IntN(len(platformBlocks))],
	}
	s.Put(c.Name(), st)

	spawnY := float64(st.platformY + collisionDropGap)
	st.lastY = spawnY

	s.SendPacket(protocol.JoinWorld{EntityID: rand.Int32(), Gamemode: 2})
	s.SendPacket(protocol.SpawnPosition{X: 0, Y: int32(st.platformY), Z: 0})
	s.SendPacket(protocol.TeleportAbsolute{X: 0, Y: spawnY, Z: 0, TeleportID: rand.Int32()})

	for x := int32(-collisionPlatformHalf); x <= collisionPlatformHalf; x++ {
		for z := int32(-collisionPlatformHalf); z <= collisionPlatformHalf; z++ {
			s.SendPacket(protocol.BlockUpdate{X: x, Y: int32(st.platformY), Z: z, BlockID: st.blockType})
		}
	}
}

func (c *CollisionCheck) OnEvent(s *Session, ev protocol.Event) Result {
	pkt, ok := ev.(protocol.PlayerPosition)
	if !ok {
		return Pending
	}

	st, ok := c.state(s)
	if !ok {
		return Fail(ReasonInternal)
	}

	if !st.teleported {
		st.teleported = true
		st.lastY = pkt.Y
		st.onGround = pkt.OnGround
		return Pending
	}

	res := Pending
	switch {
	case pkt.OnGround:
		if math.Abs(pkt.Y-float64(st.platformY+1)) > heightEpsilon {
			return Fail(ReasonCollisionWrongY)
		}
		res = Passed

	case pkt.Y < float64(st.platformY):
		return Fail(ReasonBelowPlatform)
	}

	st.lastY = pkt.Y
	st.onGround = pkt.OnGround
	return res
}

// OnVerify requires the client to be on the ground when every check has
// passed; a client hovering mid-air at completion time is not standing on
// the platform it claimed to land on.
func (c *CollisionCheck) OnVerify(s *Session) Result {
	st, ok := c.state(s)
	if !ok {
		return Fail(ReasonInternal)
	}
	if !st.onGround {
		return Fail(ReasonNotOnGround)
	}
	return Passed
}

func (c *CollisionCheck) Reset(s *Session) {
	s.Delete(c.Name())
}

func (c *CollisionCheck) state(s *Session) (*collisionState, bool) {
	v, ok := s.Get(c.Name())
	if !ok {
		return nil, false
	}
	st, ok := v.(*collisionState)
	return st, ok
}
