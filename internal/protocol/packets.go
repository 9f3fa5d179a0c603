package protocol

// Packet is an opaque outbound packet emitted by the verification core.
// The wire layout for the client's exact protocol version is the codec's
// concern; the core only names the intent.
type Packet interface {
	packet()
}

// Disconnect closes the connection with a reason key. The codec wraps the
// key into the client-visible kick message.
type Disconnect struct {
	Reason string
}

// ActionBar shows a hold-open message above the hotbar without
// disconnecting. Used for queued handshakes.
type ActionBar struct {
	Message string
}

// JoinWorld puts the client into the verification limbo world.
type JoinWorld struct {
	EntityID int32
	Gamemode byte
}

// SpawnPosition sets the client's compass/spawn point.
type SpawnPosition struct {
	X, Y, Z int32
}

// TeleportAbsolute moves the client to an absolute position.
type TeleportAbsolute struct {
	X, Y, Z    float64
	TeleportID int32
}

// BlockUpdate places a single block in the limbo world.
type BlockUpdate struct {
	X, Y, Z int32
	BlockID int32
}

// MapImage carries a rendered 128x128 CAPTCHA as map palette bytes.
type MapImage struct {
	MapID int32
	Data  []byte // 16384 palette indices
}

// SpawnVehicle spawns the boat used by the vehicle check.
type SpawnVehicle struct {
	EntityID int32
	X, Y, Z  float64
}

// SetPassengers seats the client entity in a vehicle.
type SetPassengers struct {
	VehicleID int32
	Passenger int32
}

func (Disconnect) packet()       {}
func (ActionBar) packet()        {}
func (JoinWorld) packet()        {}
func (SpawnPosition) packet()    {}
func (TeleportAbsolute) packet() {}
func (BlockUpdate) packet()      {}
func (MapImage) packet()         {}
func (SpawnVehicle) packet()     {}
func (SetPassengers) packet()    {}
