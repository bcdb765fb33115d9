// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ipc

import (
	"encoding/json"
	"math"
	"reflect"

	proto "github.com/gogo/protobuf/proto"
	"github.com/gogo/protobuf/types"
)

// Signal is the kind of a message.
type Signal int32

// Message signals.
const (
	SignalUnknown Signal = iota
	// SignalUpdateProperty sets a property of the receiver.
	SignalUpdateProperty
	// SignalRPC calls an exposed callback of the receiver.
	SignalRPC
	// SignalQuery asks the receiver for a value; it answers with SignalQueryReply.
	SignalQuery
	// SignalQueryReply answers a query with the same id.
	SignalQueryReply
	// SignalShutdown asks the receiver to stop.
	SignalShutdown
	// SignalConfirmShutdown tells the controller the sender stopped.
	SignalConfirmShutdown
)

// String implements fmt.Stringer.
func (signal Signal) String() string {
	switch signal {
	case SignalUpdateProperty:
		return "UpdateProperty"
	case SignalRPC:
		return "RPC"
	case SignalQuery:
		return "Query"
	case SignalQueryReply:
		return "QueryReply"
	case SignalShutdown:
		return "Shutdown"
	case SignalConfirmShutdown:
		return "ConfirmShutdown"
	default:
		return "Unknown"
	}
}

// Message is the envelope of everything sent between processes.
// Messages without a receiver are handled by the controller.
type Message struct {
	Signal   Signal           `protobuf:"varint,1,opt,name=signal,proto3" json:"signal,omitempty"`
	Sender   Role             `protobuf:"bytes,2,opt,name=sender,proto3,casttype=Role" json:"sender,omitempty"`
	Receiver Role             `protobuf:"bytes,3,opt,name=receiver,proto3,casttype=Role" json:"receiver,omitempty"`
	Name     string           `protobuf:"bytes,4,opt,name=name,proto3" json:"name,omitempty"`
	Args     *types.ListValue `protobuf:"bytes,5,opt,name=args,proto3" json:"args,omitempty"`
	Kwargs   *types.Struct    `protobuf:"bytes,6,opt,name=kwargs,proto3" json:"kwargs,omitempty"`
	ID       uint64           `protobuf:"varint,7,opt,name=id,proto3" json:"id,omitempty"`
	Time     float64          `protobuf:"fixed64,8,opt,name=time,proto3" json:"time,omitempty"`
}

// Reset implements proto.Message.
func (m *Message) Reset() { *m = Message{} }

// String implements proto.Message.
func (m *Message) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Message) ProtoMessage() {}

// NewMessage creates a message with encoded arguments.
func NewMessage(signal Signal, sender, receiver Role, name string, args []interface{}, kwargs map[string]interface{}) (*Message, error) {
	msg := &Message{
		Signal:   signal,
		Sender:   sender,
		Receiver: receiver,
		Name:     name,
	}
	if len(args) > 0 {
		list, err := toList(args)
		if err != nil {
			return nil, err
		}
		msg.Args = list
	}
	if len(kwargs) > 0 {
		st, err := toStruct(kwargs)
		if err != nil {
			return nil, err
		}
		msg.Kwargs = st
	}
	return msg, nil
}

// Arguments decodes the positional arguments.
func (m *Message) Arguments() []interface{} {
	if m.Args == nil {
		return nil
	}
	return fromList(m.Args)
}

// Keywords decodes the keyword arguments.
func (m *Message) Keywords() map[string]interface{} {
	if m.Kwargs == nil {
		return map[string]interface{}{}
	}
	return fromStruct(m.Kwargs)
}

// ToValue encodes a go value. Numbers become float64, structs and typed
// containers go through their json representation.
func ToValue(v interface{}) (*types.Value, error) {
	switch v := v.(type) {
	case nil:
		return &types.Value{Kind: &types.Value_NullValue{NullValue: types.NullValue_NULL_VALUE}}, nil
	case *types.Value:
		return v, nil
	case bool:
		return &types.Value{Kind: &types.Value_BoolValue{BoolValue: v}}, nil
	case string:
		return &types.Value{Kind: &types.Value_StringValue{StringValue: v}}, nil
	case Role:
		return &types.Value{Kind: &types.Value_StringValue{StringValue: string(v)}}, nil
	case []interface{}:
		list, err := toList(v)
		if err != nil {
			return nil, err
		}
		return &types.Value{Kind: &types.Value_ListValue{ListValue: list}}, nil
	case map[string]interface{}:
		st, err := toStruct(v)
		if err != nil {
			return nil, err
		}
		return &types.Value{Kind: &types.Value_StructValue{StructValue: st}}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return number(rv.Float()), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, Error.New("unsupported argument %T: %w", v, err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, Error.Wrap(err)
	}
	return ToValue(generic)
}

func number(f float64) *types.Value {
	return &types.Value{Kind: &types.Value_NumberValue{NumberValue: f}}
}

// FromValue decodes a value into nil, bool, float64, string,
// []interface{} or map[string]interface{}.
func FromValue(v *types.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *types.Value_BoolValue:
		return kind.BoolValue
	case *types.Value_NumberValue:
		return kind.NumberValue
	case *types.Value_StringValue:
		return kind.StringValue
	case *types.Value_ListValue:
		return fromList(kind.ListValue)
	case *types.Value_StructValue:
		return fromStruct(kind.StructValue)
	default:
		return nil
	}
}

// Decode converts a decoded value back into T through its json
// representation, the inverse of ToValue for structs.
func Decode[T any](raw interface{}) (value T, err error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return value, Error.Wrap(err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, ErrTypeMismatch.Wrap(err)
	}
	return value, nil
}

func toList(values []interface{}) (*types.ListValue, error) {
	list := &types.ListValue{Values: make([]*types.Value, 0, len(values))}
	for _, v := range values {
		value, err := ToValue(v)
		if err != nil {
			return nil, err
		}
		list.Values = append(list.Values, value)
	}
	return list, nil
}

func toStruct(fields map[string]interface{}) (*types.Struct, error) {
	st := &types.Struct{Fields: make(map[string]*types.Value, len(fields))}
	for key, v := range fields {
		value, err := ToValue(v)
		if err != nil {
			return nil, err
		}
		st.Fields[key] = value
	}
	return st, nil
}

func fromList(list *types.ListValue) []interface{} {
	values := make([]interface{}, 0, len(list.Values))
	for _, v := range list.Values {
		values = append(values, FromValue(v))
	}
	return values
}

func fromStruct(st *types.Struct) map[string]interface{} {
	fields := make(map[string]interface{}, len(st.Fields))
	for key, v := range st.Fields {
		fields[key] = FromValue(v)
	}
	return fields
}

// AsInt converts a decoded number to an int. ok is false for non integral values.
func AsInt(v interface{}) (n int, ok bool) {
	f, isFloat := v.(float64)
	if !isFloat || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
