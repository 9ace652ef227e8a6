package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Sentinel errors returned by the codec; callers (the dispatchers) map
// these onto the module's structured error codes.
var (
	ErrInvalidDo   = errors.New("protocol: discrete output value exceeds DoBits")
	ErrInvalidTag  = errors.New("protocol: unknown message tag")
	ErrInvalidLen  = errors.New("protocol: trailing vector length exceeds frame budget")
	ErrMsgTooLarge = errors.New("protocol: encoded message exceeds max frame length")
)

// EncodeAppMsg writes msg to w using the flat tag+body layout, with no
// outer length prefix.
func EncodeAppMsg(w io.Writer, msg AppMsg) error {
	var buf [MaxAppMsgLen]byte
	out, err := marshalAppMsg(buf[:0], msg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func marshalAppMsg(buf []byte, msg AppMsg) ([]byte, error) {
	switch m := msg.(type) {
	case AppKeepAlive:
		return append(buf, byte(AppTagKeepAlive)), nil
	case AppDoUpdate:
		return append(buf, byte(AppTagDoUpdate), byte(m.Value)), nil
	case AppAoState:
		var b byte
		if m.Enable {
			b = 1
		}
		return append(buf, byte(AppTagAoState), b), nil
	case AppAoData:
		if len(m.Points) > AoMsgMaxPoints {
			return nil, ErrMsgTooLarge
		}
		buf = append(buf, byte(AppTagAoData))
		var lenBytes [2]byte
		binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(m.Points)))
		buf = append(buf, lenBytes[:]...)
		for _, p := range m.Points {
			var pb [4]byte
			binary.LittleEndian.PutUint32(pb[:], uint32(p))
			buf = append(buf, pb[:]...)
		}
		return buf, nil
	case AppAoAdd:
		var pb [4]byte
		binary.LittleEndian.PutUint32(pb[:], uint32(m.Value))
		return append(append(buf, byte(AppTagAoAdd)), pb[:]...), nil
	case AppStatsReset:
		return append(buf, byte(AppTagStatsReset)), nil
	default:
		return nil, ErrInvalidTag
	}
}

// DecodeAppMsg reads and parses exactly one AppMsg from r.
func DecodeAppMsg(r io.Reader) (AppMsg, error) {
	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return nil, err
	}
	switch AppTag(tagByte[0]) {
	case AppTagKeepAlive:
		return AppKeepAlive{}, nil
	case AppTagDoUpdate:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		value := Do(b[0])
		if err := value.Validate(); err != nil {
			return nil, err
		}
		return AppDoUpdate{Value: value}, nil
	case AppTagAoState:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return AppAoState{Enable: b[0] != 0}, nil
	case AppTagAoData:
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint16(lb[:])
		if int(n) > AoMsgMaxPoints {
			return nil, ErrInvalidLen
		}
		points := make([]Uv, n)
		body := make([]byte, int(n)*4)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		for i := range points {
			points[i] = Uv(binary.LittleEndian.Uint32(body[i*4 : i*4+4]))
		}
		return AppAoData{Points: points}, nil
	case AppTagAoAdd:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return AppAoAdd{Value: Uv(binary.LittleEndian.Uint32(b[:]))}, nil
	case AppTagStatsReset:
		return AppStatsReset{}, nil
	default:
		return nil, ErrInvalidTag
	}
}

// EncodeMcuMsg writes msg to w using the flat tag+body layout.
func EncodeMcuMsg(w io.Writer, msg McuMsg) error {
	var buf [MaxMcuMsgLen]byte
	out, err := marshalMcuMsg(buf[:0], msg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func marshalMcuMsg(buf []byte, msg McuMsg) ([]byte, error) {
	switch m := msg.(type) {
	case McuDiUpdate:
		return append(buf, byte(McuTagDiUpdate), byte(m.Value)), nil
	case McuAoRequest:
		var cb [4]byte
		binary.LittleEndian.PutUint32(cb[:], m.Count)
		return append(append(buf, byte(McuTagAoRequest)), cb[:]...), nil
	case McuAiData:
		if len(m.Frames) > AiMsgMaxPoints {
			return nil, ErrMsgTooLarge
		}
		buf = append(buf, byte(McuTagAiData))
		var lenBytes [2]byte
		binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(m.Frames)))
		buf = append(buf, lenBytes[:]...)
		for _, frame := range m.Frames {
			for _, p := range frame {
				var pb [4]byte
				binary.LittleEndian.PutUint32(pb[:], uint32(p))
				buf = append(buf, pb[:]...)
			}
		}
		return buf, nil
	case McuError:
		if tagSize+1+lenSize+len(m.Message) > MaxMcuMsgLen {
			return nil, ErrMsgTooLarge
		}
		buf = append(buf, byte(McuTagError), m.Code)
		var lenBytes [2]byte
		binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(m.Message)))
		buf = append(buf, lenBytes[:]...)
		return append(buf, m.Message...), nil
	case McuDebug:
		if tagSize+lenSize+len(m.Message) > MaxMcuMsgLen {
			return nil, ErrMsgTooLarge
		}
		buf = append(buf, byte(McuTagDebug))
		var lenBytes [2]byte
		binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(m.Message)))
		buf = append(buf, lenBytes[:]...)
		return append(buf, m.Message...), nil
	default:
		return nil, ErrInvalidTag
	}
}

// DecodeMcuMsg reads and parses exactly one McuMsg from r.
func DecodeMcuMsg(r io.Reader) (McuMsg, error) {
	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return nil, err
	}
	switch McuTag(tagByte[0]) {
	case McuTagDiUpdate:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return McuDiUpdate{Value: Di(b[0])}, nil
	case McuTagAoRequest:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return McuAoRequest{Count: binary.LittleEndian.Uint32(b[:])}, nil
	case McuTagAiData:
		var lb [2]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint16(lb[:])
		if int(n) > AiMsgMaxPoints {
			return nil, ErrInvalidLen
		}
		frames := make([]AiFrame, n)
		body := make([]byte, int(n)*ADCCount*4)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		off := 0
		for i := range frames {
			for ch := 0; ch < ADCCount; ch++ {
				frames[i][ch] = Uv(binary.LittleEndian.Uint32(body[off : off+4]))
				off += 4
			}
		}
		return McuAiData{Frames: frames}, nil
	case McuTagError:
		var cb [1]byte
		if _, err := io.ReadFull(r, cb[:]); err != nil {
			return nil, err
		}
		msg, err := readVec(r)
		if err != nil {
			return nil, err
		}
		return McuError{Code: cb[0], Message: msg}, nil
	case McuTagDebug:
		msg, err := readVec(r)
		if err != nil {
			return nil, err
		}
		return McuDebug{Message: msg}, nil
	default:
		return nil, ErrInvalidTag
	}
}

func readVec(r io.Reader) ([]byte, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(lb[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
