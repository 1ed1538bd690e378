package codec

import "github.com/kabili207/uavtalk-go/core"

// NewObject builds an unacknowledged object update.
func NewObject(id core.ObjectID, inst core.InstanceID, data []byte) *Frame {
	return &Frame{Type: TypeObj, ObjectID: id, InstanceID: inst, Data: data}
}

// NewObjectAck builds an object update the receiver must acknowledge.
func NewObjectAck(id core.ObjectID, inst core.InstanceID, data []byte) *Frame {
	return &Frame{Type: TypeObjAck, ObjectID: id, InstanceID: inst, Data: data}
}

// NewObjectRequest builds a request for the current value of an object.
func NewObjectRequest(id core.ObjectID, inst core.InstanceID) *Frame {
	return &Frame{Type: TypeObjReq, ObjectID: id, InstanceID: inst}
}

// NewAck builds the acknowledgement for a received TypeObjAck frame.
func NewAck(id core.ObjectID, inst core.InstanceID) *Frame {
	return &Frame{Type: TypeAck, ObjectID: id, InstanceID: inst}
}

// NewNack builds a negative reply to a request that cannot be served.
func NewNack(id core.ObjectID, inst core.InstanceID) *Frame {
	return &Frame{Type: TypeNack, ObjectID: id, InstanceID: inst}
}

// WithTimestamp marks the frame as timestamped and returns it.
func (f *Frame) WithTimestamp(ms uint16) *Frame {
	f.Timestamped = true
	f.Timestamp = ms
	return f
}
