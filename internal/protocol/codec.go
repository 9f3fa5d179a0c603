package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// Handshake identifies a client before any authentication has happened.
type Handshake struct {
	Username        string
	Source          string // remote IP, no port
	ProtocolVersion int32
	Arrival         time.Time
}

// Handshake next-state values.
const (
	NextStateStatus = 1
	NextStateLogin  = 2
)

// Serverbound packet IDs (protocol 47 layout; per-version registries are the
// full codec's concern, the filter only speaks the admission-window subset).
const (
	sbHandshake       = 0x00
	sbLoginStart      = 0x00
	sbStatusRequest   = 0x00
	sbStatusPing      = 0x01
	sbChatMessage     = 0x01
	sbPlayer          = 0x03
	sbPlayerPosition  = 0x04
	sbPlayerLook      = 0x05
	sbPlayerPosLook   = 0x06
	sbClientSettings  = 0x15
	sbPluginMessage   = 0x17
	sbSteerVehicle    = 0x0C
	sbTeleportConfirm = 0x0F
)

// Clientbound packet IDs (protocol 47 layout).
const (
	cbLoginDisconnect = 0x00
	cbStatusResponse  = 0x00
	cbStatusPong      = 0x01
	cbJoinGame        = 0x01
	cbChat            = 0x02
	cbSpawnPosition   = 0x05
	cbPlayerPosLook   = 0x08
	cbBlockChange     = 0x23
	cbMap             = 0x34
	cbPlayDisconnect  = 0x40
	cbSpawnVehicle    = 0x0E
	cbSetPassengers   = 0x1B
)

const brandChannel = "MC|Brand"

type frameReader struct {
	buf *bytes.Reader
}

func (fr frameReader) varInt() (int32, error) { return ReadVarInt(fr.buf) }

func (fr frameReader) str() (string, error) {
	n, err := fr.varInt()
	if err != nil {
		return "", err
	}
	if n < 0 || n > MaxStringSize {
		return "", fmt.Errorf("string length %d out of range", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(fr.buf, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (fr frameReader) f64() (float64, error) {
	var b [8]byte
	if _, err := io.ReadFull(fr.buf, b[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
}

func (fr frameReader) f32() (float32, error) {
	var b [4]byte
	if _, err := io.ReadFull(fr.buf, b[:]); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b[:])), nil
}

func (fr frameReader) u16() (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(fr.buf, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (fr frameReader) bool() (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(fr.buf, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// HandshakeIntent is the decoded handshake packet.
type HandshakeIntent struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       int32
}

// ReadHandshake reads and decodes the first frame of a connection.
func ReadHandshake(r io.Reader, buf []byte) (HandshakeIntent, error) {
	body, err := ReadFrame(r, buf)
	if err != nil {
		return HandshakeIntent{}, fmt.Errorf("reading handshake frame: %w", err)
	}
	fr := frameReader{bytes.NewReader(body)}

	id, err := fr.varInt()
	if err != nil {
		return HandshakeIntent{}, err
	}
	if id != sbHandshake {
		return HandshakeIntent{}, fmt.Errorf("expected handshake packet, got 0x%02X", id)
	}

	var hs HandshakeIntent
	if hs.ProtocolVersion, err = fr.varInt(); err != nil {
		return HandshakeIntent{}, fmt.Errorf("handshake protocol version: %w", err)
	}
	if hs.ServerAddress, err = fr.str(); err != nil {
		return HandshakeIntent{}, fmt.Errorf("handshake server address: %w", err)
	}
	if hs.ServerPort, err = fr.u16(); err != nil {
		return HandshakeIntent{}, fmt.Errorf("handshake server port: %w", err)
	}
	if hs.NextState, err = fr.varInt(); err != nil {
		return HandshakeIntent{}, fmt.Errorf("handshake next state: %w", err)
	}
	return hs, nil
}

// ReadLoginStart reads the login-start frame and returns the username.
func ReadLoginStart(r io.Reader, buf []byte) (string, error) {
	body, err := ReadFrame(r, buf)
	if err != nil {
		return "", fmt.Errorf("reading login start frame: %w", err)
	}
	fr := frameReader{bytes.NewReader(body)}

	id, err := fr.varInt()
	if err != nil {
		return "", err
	}
	if id != sbLoginStart {
		return "", fmt.Errorf("expected login start packet, got 0x%02X", id)
	}
	name, err := fr.str()
	if err != nil {
		return "", fmt.Errorf("login start username: %w", err)
	}
	return name, nil
}

// DecodeEvent decodes one play-state frame body into an Event.
// Returns (nil, nil) for packets the filter does not care about
// (keep-alives, look-only updates, foreign plugin channels).
func DecodeEvent(body []byte) (Event, error) {
	fr := frameReader{bytes.NewReader(body)}

	id, err := fr.varInt()
	if err != nil {
		return nil, err
	}

	switch id {
	case sbPlayerPosition, sbPlayerPosLook:
		var ev PlayerPosition
		if ev.X, err = fr.f64(); err != nil {
			return nil, err
		}
		if ev.Y, err = fr.f64(); err != nil {
			return nil, err
		}
		if ev.Z, err = fr.f64(); err != nil {
			return nil, err
		}
		if id == sbPlayerPosLook {
			ev.HasRotation = true
			if _, err = fr.f32(); err != nil { // yaw
				return nil, err
			}
			if _, err = fr.f32(); err != nil { // pitch
				return nil, err
			}
		}
		if ev.OnGround, err = fr.bool(); err != nil {
			return nil, err
		}
		return ev, nil

	case sbChatMessage:
		text, err := fr.str()
		if err != nil {
			return nil, err
		}
		return ChatLine{Text: text}, nil

	case sbTeleportConfirm:
		tid, err := fr.varInt()
		if err != nil {
			return nil, err
		}
		return TeleportConfirm{ID: tid}, nil

	case sbSteerVehicle:
		var ev VehicleMove
		if ev.X, err = fr.f64(); err != nil {
			return nil, err
		}
		if ev.Y, err = fr.f64(); err != nil {
			return nil, err
		}
		if ev.Z, err = fr.f64(); err != nil {
			return nil, err
		}
		if ev.Yaw, err = fr.f32(); err != nil {
			return nil, err
		}
		if ev.Pitch, err = fr.f32(); err != nil {
			return nil, err
		}
		return ev, nil

	case sbPluginMessage:
		channel, err := fr.str()
		if err != nil {
			return nil, err
		}
		if channel != brandChannel {
			return nil, nil
		}
		rest := make([]byte, fr.buf.Len())
		if _, err := io.ReadFull(fr.buf, rest); err != nil {
			return nil, err
		}
		// The brand payload is a varint-prefixed string; legacy clients
		// send the raw bytes instead.
		brandFr := frameReader{bytes.NewReader(rest)}
		if brand, err := brandFr.str(); err == nil && brandFr.buf.Len() == 0 {
			return PluginMessageBrand{Brand: brand}, nil
		}
		return PluginMessageBrand{Brand: string(rest)}, nil

	case sbClientSettings:
		locale, err := fr.str()
		if err != nil {
			return nil, err
		}
		return ClientSettings{Locale: locale}, nil

	default:
		return nil, nil
	}
}

func appendString(dst []byte, s string) []byte {
	dst = AppendVarInt(dst, int32(len(s)))
	return append(dst, s...)
}

func appendF64(dst []byte, v float64) []byte {
	return binary.BigEndian.AppendUint64(dst, math.Float64bits(v))
}

func appendF32(dst []byte, v float32) []byte {
	return binary.BigEndian.AppendUint32(dst, math.Float32bits(v))
}

// appendBlockPos packs coordinates into the 1.8 position long.
func appendBlockPos(dst []byte, x, y, z int32) []byte {
	packed := (uint64(x)&0x3FFFFFF)<<38 | (uint64(y)&0xFFF)<<26 | (uint64(z) & 0x3FFFFFF)
	return binary.BigEndian.AppendUint64(dst, packed)
}

// EncodePacket serialises an outbound packet into a frame body.
// login selects the login-state layout for Disconnect.
func EncodePacket(p Packet, login bool) ([]byte, error) {
	switch pkt := p.(type) {
	case Disconnect:
		id := int32(cbPlayDisconnect)
		if login {
			id = cbLoginDisconnect
		}
		body := AppendVarInt(nil, id)
		return appendString(body, kickJSON(pkt.Reason)), nil

	case ActionBar:
		body := AppendVarInt(nil, cbChat)
		body = appendString(body, chatJSON(pkt.Message))
		return append(body, 2), nil // position 2 = above hotbar

	case JoinWorld:
		body := AppendVarInt(nil, cbJoinGame)
		body = binary.BigEndian.AppendUint32(body, uint32(pkt.EntityID))
		body = append(body, pkt.Gamemode)
		body = append(body, 0)            // dimension: overworld
		body = append(body, 0)            // difficulty: peaceful
		body = append(body, 1)            // max players
		body = appendString(body, "flat") // level type
		return append(body, 0), nil       // reduced debug info

	case SpawnPosition:
		body := AppendVarInt(nil, cbSpawnPosition)
		return appendBlockPos(body, pkt.X, pkt.Y, pkt.Z), nil

	case TeleportAbsolute:
		body := AppendVarInt(nil, cbPlayerPosLook)
		body = appendF64(body, pkt.X)
		body = appendF64(body, pkt.Y)
		body = appendF64(body, pkt.Z)
		body = appendF32(body, 0)   // yaw
		body = appendF32(body, 0)   // pitch
		return append(body, 0), nil // absolute flags

	case BlockUpdate:
		body := AppendVarInt(nil, cbBlockChange)
		body = appendBlockPos(body, pkt.X, pkt.Y, pkt.Z)
		return AppendVarInt(body, pkt.BlockID<<4), nil // block state = id<<4 | meta

	case MapImage:
		if len(pkt.Data) != 128*128 {
			return nil, fmt.Errorf("map image must be %d bytes, got %d", 128*128, len(pkt.Data))
		}
		body := AppendVarInt(nil, cbMap)
		body = AppendVarInt(body, pkt.MapID)
		body = append(body, 0)       // scale
		body = AppendVarInt(body, 0) // no icons
		body = append(body, 128)     // columns
		body = append(body, 128)     // rows
		body = append(body, 0, 0)    // x, z offset
		body = AppendVarInt(body, int32(len(pkt.Data)))
		return append(body, pkt.Data...), nil

	case SpawnVehicle:
		body := AppendVarInt(nil, cbSpawnVehicle)
		body = AppendVarInt(body, pkt.EntityID)
		body = append(body, 1) // object type: boat
		body = binary.BigEndian.AppendUint32(body, uint32(int32(pkt.X*32)))
		body = binary.BigEndian.AppendUint32(body, uint32(int32(pkt.Y*32)))
		body = binary.BigEndian.AppendUint32(body, uint32(int32(pkt.Z*32)))
		body = append(body, 0, 0)                          // pitch, yaw
		return binary.BigEndian.AppendUint32(body, 0), nil // no velocity

	case SetPassengers:
		body := AppendVarInt(nil, cbSetPassengers)
		body = AppendVarInt(body, pkt.VehicleID)
		body = AppendVarInt(body, 1)
		return AppendVarInt(body, pkt.Passenger), nil

	default:
		return nil, fmt.Errorf("unknown packet type %T", p)
	}
}

// WritePacket encodes p and writes it as one frame to w.
func WritePacket(w io.Writer, p Packet, login bool) error {
	body, err := EncodePacket(p, login)
	if err != nil {
		return err
	}
	return WriteFrame(w, body)
}

// WriteStatusResponse answers a status request with the given JSON document.
func WriteStatusResponse(w io.Writer, statusJSON string) error {
	body := AppendVarInt(nil, cbStatusResponse)
	body = appendString(body, statusJSON)
	return WriteFrame(w, body)
}

// WriteStatusPong echoes a status ping payload.
func WriteStatusPong(w io.Writer, payload int64) error {
	body := AppendVarInt(nil, cbStatusPong)
	body = binary.BigEndian.AppendUint64(body, uint64(payload))
	return WriteFrame(w, body)
}

// ReadStatusPing reads a status-state frame; returns (payload, true) for a
// ping and (0, false) for the plain status request.
func ReadStatusPing(r io.Reader, buf []byte) (int64, bool, error) {
	body, err := ReadFrame(r, buf)
	if err != nil {
		return 0, false, err
	}
	fr := frameReader{bytes.NewReader(body)}
	id, err := fr.varInt()
	if err != nil {
		return 0, false, err
	}
	if id != sbStatusPing {
		return 0, false, nil
	}
	var b [8]byte
	if _, err := io.ReadFull(fr.buf, b[:]); err != nil {
		return 0, false, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), true, nil
}

// WriteLoginSuccess switches the connection into the play state. The UUID is
// an offline-mode identity; real authentication happens downstream.
func WriteLoginSuccess(w io.Writer, uid, username string) error {
	body := AppendVarInt(nil, 0x02)
	body = appendString(body, uid)
	body = appendString(body, username)
	return WriteFrame(w, body)
}

func chatJSON(text string) string {
	return fmt.Sprintf(`{"text":%q}`, text)
}

func kickJSON(reason string) string {
	return fmt.Sprintf(`{"translate":%q}`, "mcguard.kick."+reason)
}
