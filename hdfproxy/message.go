package hdfproxy

// MessageType numbers a message within its protocol.
type MessageType int32

// DataArray protocol message types.
const (
	MsgPutDataArrays                      MessageType = 4
	MsgPutDataSubarrays                   MessageType = 5
	MsgGetDataArrayMetadata               MessageType = 6
	MsgGetDataArrayMetadataResponse       MessageType = 7
	MsgPutUninitializedDataArrays         MessageType = 9
	MsgPutDataArraysResponse              MessageType = 10
	MsgPutDataSubarraysResponse           MessageType = 11
	MsgPutUninitializedDataArraysResponse MessageType = 12

	// MsgProtocolException belongs to ProtocolCore.
	MsgProtocolException MessageType = 1000
)

func (t MessageType) String() string {
	switch t {
	case MsgPutDataArrays:
		return "PutDataArrays"
	case MsgPutDataSubarrays:
		return "PutDataSubarrays"
	case MsgGetDataArrayMetadata:
		return "GetDataArrayMetadata"
	case MsgGetDataArrayMetadataResponse:
		return "GetDataArrayMetadataResponse"
	case MsgPutUninitializedDataArrays:
		return "PutUninitializedDataArrays"
	case MsgPutDataArraysResponse:
		return "PutDataArraysResponse"
	case MsgPutDataSubarraysResponse:
		return "PutDataSubarraysResponse"
	case MsgPutUninitializedDataArraysResponse:
		return "PutUninitializedDataArraysResponse"
	case MsgProtocolException:
		return "ProtocolException"
	default:
		return "Unknown"
	}
}

// Message is a logical message body. Byte-level encoding is the channel's
// responsibility.
type Message interface {
	MessageType() MessageType
}

// HeaderFor returns the header the proxy sends msg with: correlation 0 and
// the final-part flag, on the protocol the message type belongs to.
func HeaderFor(msg Message) Header {
	proto := ProtocolDataArray
	if msg.MessageType() == MsgProtocolException {
		proto = ProtocolCore
	}
	return Header{
		Protocol:    proto,
		MessageType: msg.MessageType(),
		Flags:       FlagFinal,
	}
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

// GetDataArrayMetadata asks for the dimensions and transport type of an array.
type GetDataArrayMetadata struct {
	ID ArrayIdentifier `msgpack:"id"`
}

// PutUninitializedDataArrays creates a placeholder array with a shape and
// type but no data. Sub-array writes require the placeholder to exist.
type PutUninitializedDataArrays struct {
	ID            ArrayIdentifier `msgpack:"id"`
	Dimensions    []int64         `msgpack:"dimensions"`
	TransportType TransportType   `msgpack:"transport_type"`
}

// PutDataArrays writes a whole array in one message.
type PutDataArrays struct {
	ID         ArrayIdentifier `msgpack:"id"`
	Dimensions []int64         `msgpack:"dimensions"`
	Data       AnyArray        `msgpack:"data"`
}

// PutDataSubarrays writes the box [Starts, Starts+Counts) of an existing array.
// Data holds the box's elements in row-major order.
type PutDataSubarrays struct {
	ID     ArrayIdentifier `msgpack:"id"`
	Starts []int64         `msgpack:"starts"`
	Counts []int64         `msgpack:"counts"`
	Data   AnyArray        `msgpack:"data"`
}

func (GetDataArrayMetadata) MessageType() MessageType       { return MsgGetDataArrayMetadata }
func (PutUninitializedDataArrays) MessageType() MessageType { return MsgPutUninitializedDataArrays }
func (PutDataArrays) MessageType() MessageType              { return MsgPutDataArrays }
func (PutDataSubarrays) MessageType() MessageType           { return MsgPutDataSubarrays }

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

// GetDataArrayMetadataResponse answers GetDataArrayMetadata.
type GetDataArrayMetadataResponse struct {
	Metadata ArrayMetadata `msgpack:"metadata"`
}

// PutUninitializedDataArraysResponse acknowledges a placeholder creation.
type PutUninitializedDataArraysResponse struct {
	Success bool `msgpack:"success"`
}

// PutDataArraysResponse acknowledges a whole-array write.
type PutDataArraysResponse struct {
	Success bool `msgpack:"success"`
}

// PutDataSubarraysResponse acknowledges a sub-array write.
type PutDataSubarraysResponse struct {
	Success bool `msgpack:"success"`
}

// ProtocolException is the remote side's error answer to any request.
type ProtocolException struct {
	Code    int32  `msgpack:"code"`
	Message string `msgpack:"message"`
}

func (GetDataArrayMetadataResponse) MessageType() MessageType { return MsgGetDataArrayMetadataResponse }
func (PutUninitializedDataArraysResponse) MessageType() MessageType {
	return MsgPutUninitializedDataArraysResponse
}
func (PutDataArraysResponse) MessageType() MessageType    { return MsgPutDataArraysResponse }
func (PutDataSubarraysResponse) MessageType() MessageType { return MsgPutDataSubarraysResponse }
func (ProtocolException) MessageType() MessageType        { return MsgProtocolException }

// Protocol exception codes used by the array service.
const (
	ExceptionNotFound        int32 = 11
	ExceptionInvalidArgument int32 = 5
	ExceptionRequestDenied   int32 = 6
	ExceptionAlreadyExists   int32 = 14
)
