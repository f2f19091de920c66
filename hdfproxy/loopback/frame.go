package loopback

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/hdfproxy/hdfproxy"
)

// frame is the MessagePack envelope of one message on the loopback wire.
type frame struct {
	Protocol      int32              `msgpack:"protocol"`
	MessageType   int32              `msgpack:"message_type"`
	MessageID     int64              `msgpack:"message_id"`
	CorrelationID int64              `msgpack:"correlation_id"`
	Flags         int32              `msgpack:"flags"`
	Body          msgpack.RawMessage `msgpack:"body"`
}

// EncodeFrame serializes a message and its header into one frame.
func EncodeFrame(hdr hdfproxy.Header, messageID int64, msg hdfproxy.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("loopback: nil message")
	}
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("loopback: encoding %s body: %w", msg.MessageType(), err)
	}
	data, err := msgpack.Marshal(&frame{
		Protocol:      int32(hdr.Protocol),
		MessageType:   int32(hdr.MessageType),
		MessageID:     messageID,
		CorrelationID: hdr.CorrelationID,
		Flags:         int32(hdr.Flags),
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("loopback: encoding frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a frame produced by EncodeFrame.
func DecodeFrame(data []byte) (hdfproxy.Header, int64, hdfproxy.Message, error) {
	if len(data) == 0 {
		return hdfproxy.Header{}, 0, nil, errors.New("loopback: empty frame")
	}
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return hdfproxy.Header{}, 0, nil, fmt.Errorf("loopback: decoding frame: %w", err)
	}
	hdr := hdfproxy.Header{
		Protocol:      hdfproxy.ProtocolID(f.Protocol),
		MessageType:   hdfproxy.MessageType(f.MessageType),
		CorrelationID: f.CorrelationID,
		Flags:         hdfproxy.MessageFlags(f.Flags),
	}
	decode, ok := bodyDecoders[hdr.MessageType]
	if !ok {
		return hdr, f.MessageID, nil, fmt.Errorf("loopback: message type %d: %w", f.MessageType, hdfproxy.ErrProtocol)
	}
	msg, err := decode(f.Body)
	if err != nil {
		return hdr, f.MessageID, nil, fmt.Errorf("loopback: decoding %s body: %w", hdr.MessageType, err)
	}
	return hdr, f.MessageID, msg, nil
}

var bodyDecoders = map[hdfproxy.MessageType]func([]byte) (hdfproxy.Message, error){
	hdfproxy.MsgGetDataArrayMetadata:               decodeAs[hdfproxy.GetDataArrayMetadata],
	hdfproxy.MsgGetDataArrayMetadataResponse:       decodeAs[hdfproxy.GetDataArrayMetadataResponse],
	hdfproxy.MsgPutUninitializedDataArrays:         decodeAs[hdfproxy.PutUninitializedDataArrays],
	hdfproxy.MsgPutUninitializedDataArraysResponse: decodeAs[hdfproxy.PutUninitializedDataArraysResponse],
	hdfproxy.MsgPutDataArrays:                      decodeAs[hdfproxy.PutDataArrays],
	hdfproxy.MsgPutDataArraysResponse:              decodeAs[hdfproxy.PutDataArraysResponse],
	hdfproxy.MsgPutDataSubarrays:                   decodeAs[hdfproxy.PutDataSubarrays],
	hdfproxy.MsgPutDataSubarraysResponse:           decodeAs[hdfproxy.PutDataSubarraysResponse],
	hdfproxy.MsgProtocolException:                  decodeAs[hdfproxy.ProtocolException],
}

func decodeAs[T hdfproxy.Message](body []byte) (hdfproxy.Message, error) {
	var m T
	if err := msgpack.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}
