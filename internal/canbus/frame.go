package canbus

import "encoding/binary"

const (
	// frameSize is the fixed wire size of a classic CAN frame in the
	// SocketCAN ABI: 4 bytes ID, 1 byte DLC, 3 bytes padding, 8 bytes
	// data.
	frameSize = 16

	// effMask keeps the 29 usable identifier bits; the flag bits above
	// them (EFF/RTR/ERR) are not part of the arbitration ID.
	effMask = 0x1FFFFFFF
)

// encodeFrame packs a frame into the SocketCAN wire layout. The caller
// validates the payload length against MaxDataLen.
func encodeFrame(frame Frame) [frameSize]byte {
	var buf [frameSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], frame.ID)
	buf[4] = byte(len(frame.Data))
	copy(buf[8:], frame.Data)
	return buf
}

// decodeFrame unpacks the SocketCAN wire layout. The DLC is clamped to
// MaxDataLen and the identifier flag bits are masked off. The timestamp
// is left for the transport to fill in.
func decodeFrame(buf [frameSize]byte) Frame {
	dlc := int(buf[4])
	if dlc > MaxDataLen {
		dlc = MaxDataLen
	}

	frame := Frame{
		ID:   binary.LittleEndian.Uint32(buf[0:4]) & effMask,
		Data: make([]byte, dlc),
	}
	copy(frame.Data, buf[8:8+dlc])
	return frame
}
