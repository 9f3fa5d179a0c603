package protocol

// Event is an inbound client action forwarded to a verification session.
// The set is closed: only the packets a client can legitimately produce
// inside the admission window are decoded.
type Event interface {
	event()
}

// PlayerPosition is a serverbound position (or position+look) update.
type PlayerPosition struct {
	X, Y, Z     float64
	OnGround    bool
	HasRotation bool
}

// TeleportConfirm acknowledges a server-initiated teleport.
type TeleportConfirm struct {
	ID int32
}

// VehicleMove is a serverbound vehicle position update.
type VehicleMove struct {
	X, Y, Z    float64
	Yaw, Pitch float32
}

// ChatLine is a chat message typed by the client.
type ChatLine struct {
	Text string
}

// PluginMessageBrand carries the client brand from the brand channel.
type PluginMessageBrand struct {
	Brand string
}

// ClientSettings carries the client locale (only field the filter reads).
type ClientSettings struct {
	Locale string
}

func (PlayerPosition) event()     {}
func (TeleportConfirm) event()    {}
func (VehicleMove) event()        {}
func (ChatLine) event()           {}
func (PluginMessageBrand) event() {}
func (ClientSettings) event()     {}
