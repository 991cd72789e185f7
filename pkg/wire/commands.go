package wire

import (
	"errors"
	"fmt"
	"math"
)

// Command identifiers. The controller acknowledges every command with an
// Ack response; Identify additionally returns the controller version.
const (
	CmdIdentify int32 = iota + 1
	CmdHome
	CmdPickUpTip
	CmdDropTip
	CmdAspirate
	CmdDispense
	CmdBlowOut
	CmdTouchTip
)

// Response identifiers.
const (
	RespAck      int32 = 0x20
	RespIdentify int32 = 0x21
)

// Ack status codes.
const (
	StatusOK    int32 = 0
	StatusError int32 = 1
)

// ErrRejected is the base error for commands the controller refused.
var ErrRejected = errors.New("wire: command rejected by controller")

// Volumes travel as integer nanoliters and depths as integer
// micrometers, so command frames stay pure-VLQ with no float encoding.

// VolumeToNl converts microliters to wire nanoliters.
func VolumeToNl(ul float64) int32 {
	return int32(math.Round(ul * 1000))
}

// NlToVolume converts wire nanoliters back to microliters.
func NlToVolume(nl int32) float64 {
	return float64(nl) / 1000
}

// DepthToUm converts millimeters to wire micrometers.
func DepthToUm(mm float64) int32 {
	return int32(math.Round(mm * 1000))
}

// UmToDepth converts wire micrometers back to millimeters.
func UmToDepth(um int32) float64 {
	return float64(um) / 1000
}

// Command is one decoded controller command. Field validity depends on
// the ID: liquid commands carry a location and volume, tip commands a
// location, Home and DropTip only the mount.
type Command struct {
	ID    int32
	Mount int32

	Labware string
	Well    string
	DepthUm int32

	VolumeNl int32
}

// hasLocation reports whether the command encodes a deck location.
func hasLocation(id int32) bool {
	switch id {
	case CmdPickUpTip, CmdAspirate, CmdDispense, CmdBlowOut, CmdTouchTip:
		return true
	}
	return false
}

// hasVolume reports whether the command encodes a volume.
func hasVolume(id int32) bool {
	return id == CmdAspirate || id == CmdDispense
}

// Encode serializes the command into a frame payload.
func (c Command) Encode() ([]byte, error) {
	var out []byte
	EncodeInt32(&out, c.ID)
	if c.ID != CmdIdentify {
		EncodeInt32(&out, c.Mount)
	}
	if hasLocation(c.ID) {
		if err := EncodeString(&out, c.Labware); err != nil {
			return nil, err
		}
		if err := EncodeString(&out, c.Well); err != nil {
			return nil, err
		}
		EncodeInt32(&out, c.DepthUm)
	}
	if hasVolume(c.ID) {
		EncodeInt32(&out, c.VolumeNl)
	}
	return out, nil
}

// DecodeCommand parses a frame payload into a Command.
func DecodeCommand(payload []byte) (Command, error) {
	var c Command
	var err error
	pos := 0
	if c.ID, pos, err = DecodeInt32(payload, pos); err != nil {
		return c, err
	}
	if c.ID < CmdIdentify || c.ID > CmdTouchTip {
		return c, fmt.Errorf("wire: unknown command id %d", c.ID)
	}
	if c.ID != CmdIdentify {
		if c.Mount, pos, err = DecodeInt32(payload, pos); err != nil {
			return c, err
		}
	}
	if hasLocation(c.ID) {
		if c.Labware, pos, err = DecodeString(payload, pos); err != nil {
			return c, err
		}
		if c.Well, pos, err = DecodeString(payload, pos); err != nil {
			return c, err
		}
		if c.DepthUm, pos, err = DecodeInt32(payload, pos); err != nil {
			return c, err
		}
	}
	if hasVolume(c.ID) {
		if c.VolumeNl, pos, err = DecodeInt32(payload, pos); err != nil {
			return c, err
		}
	}
	if pos != len(payload) {
		return c, fmt.Errorf("wire: %d trailing bytes after command %d", len(payload)-pos, c.ID)
	}
	return c, nil
}

// EncodeAck builds an Ack response payload. A non-empty message implies
// StatusError.
func EncodeAck(message string) ([]byte, error) {
	var out []byte
	EncodeInt32(&out, RespAck)
	if message == "" {
		EncodeInt32(&out, StatusOK)
		return out, nil
	}
	EncodeInt32(&out, StatusError)
	if err := EncodeString(&out, message); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeIdentifyResponse builds the Identify response payload.
func EncodeIdentifyResponse(version string) ([]byte, error) {
	var out []byte
	EncodeInt32(&out, RespIdentify)
	if err := EncodeString(&out, version); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeResponse parses a response payload. Ack errors surface as
// ErrRejected with the controller's message; an Identify response
// returns the version string.
func DecodeResponse(payload []byte) (version string, err error) {
	id, pos, err := DecodeInt32(payload, 0)
	if err != nil {
		return "", err
	}
	switch id {
	case RespAck:
		status, pos, err := DecodeInt32(payload, pos)
		if err != nil {
			return "", err
		}
		if status == StatusOK {
			return "", nil
		}
		msg, _, err := DecodeString(payload, pos)
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	case RespIdentify:
		version, _, err := DecodeString(payload, pos)
		return version, err
	default:
		return "", fmt.Errorf("wire: unknown response id %d", id)
	}
}
