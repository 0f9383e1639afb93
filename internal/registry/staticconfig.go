// Package registry implements the named-service registry: the immutable
// static-config document the first creator publishes atomically, the
// dynamic table of live ports every service carries, and the open/create
// negotiation that lets independent processes agree on a service's type
// layout and resource limits without a broker.
package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/go-uuid"
)

// FormatVersion is bumped whenever the serialized static-config layout
// changes; openers seeing a different version fail with ErrVersionMismatch.
const FormatVersion uint16 = 1

// MessagingPattern tags the communication style a service was created for.
type MessagingPattern uint8

const (
	PatternPublishSubscribe MessagingPattern = iota
	PatternEvent
	PatternRequestResponse
)

func (p MessagingPattern) String() string {
	switch p {
	case PatternPublishSubscribe:
		return "PublishSubscribe"
	case PatternEvent:
		return "Event"
	case PatternRequestResponse:
		return "RequestResponse"
	default:
		return fmt.Sprintf("MessagingPattern(%d)", uint8(p))
	}
}

// TypeVariant distinguishes fixed-size payloads from slices of elements.
type TypeVariant uint8

const (
	TypeFixedSize TypeVariant = iota
	TypeSlice
)

// TypeDetail is one side's description of a payload or user-header type.
// Two fixed types are compatible when every field matches; two slice types
// tolerate differing element counts.
type TypeDetail struct {
	Variant   TypeVariant
	Name      string
	Size      uint64
	Alignment uint64
}

// CompatibleWith reports whether other can attach to a service whose type
// was declared as d.
func (d TypeDetail) CompatibleWith(other TypeDetail) bool {
	if d.Variant != other.Variant {
		return false
	}
	return d.Name == other.Name && d.Size == other.Size && d.Alignment == other.Alignment
}

// Attribute is one user-defined key/value pair; a key may appear multiple
// times in a service's attribute set.
type Attribute struct {
	Key   string
	Value string
}

// PubSubCaps are the capacity limits of a publish-subscribe service.
type PubSubCaps struct {
	MaxPublishers                uint64
	MaxSubscribers               uint64
	MaxNodes                     uint64
	HistorySize                  uint64
	SubscriberMaxBufferSize      uint64
	SubscriberMaxBorrowedSamples uint64
	EnableSafeOverflow           bool
	MaxSegments                  uint64
}

// EventCaps are the capacity limits of an event service.
type EventCaps struct {
	MaxNotifiers    uint64
	MaxListeners    uint64
	MaxNodes        uint64
	EventIDMaxValue uint64
}

// ReqResCaps are the capacity limits of a request-response service.
type ReqResCaps struct {
	MaxClients                 uint64
	MaxServers                 uint64
	MaxNodes                   uint64
	MaxActiveRequestsPerClient uint64
	MaxResponseBufferSize      uint64
	MaxBorrowedResponses       uint64
	EnableSafeOverflow         bool
}

// StaticConfig is the immutable identity of a service: pattern, type
// contract, capacity limits, attributes, and the content-addressed service
// id derived from all of it. It is written exactly once by the creating
// process and thereafter only read.
type StaticConfig struct {
	Version   uint16
	Pattern   MessagingPattern
	Name      string
	ServiceID string
	UUID      string
	CreatedAt int64 // unix nanoseconds

	Payload    TypeDetail
	UserHeader TypeDetail
	Request    TypeDetail
	Response   TypeDetail

	PubSub PubSubCaps
	Event  EventCaps
	ReqRes ReqResCaps

	Attributes []Attribute
}

// Seal stamps the config with its content-addressed service id, a fresh
// uuid, and the creation timestamp. It must be called exactly once, by the
// creator, before Serialize.
func (c *StaticConfig) Seal() error {
	c.Version = FormatVersion
	c.ServiceID = c.ComputeServiceID()
	id, err := uuid.GenerateUUID()
	if err != nil {
		return err
	}
	c.UUID = id
	c.CreatedAt = time.Now().UnixNano()
	return nil
}

// ComputeServiceID hashes the normalized identity-bearing fields — pattern,
// name, types, and capacity limits, but not uuid or timestamp — so the same
// logical service always derives the same id in every process.
func (c *StaticConfig) ComputeServiceID() string {
	h := xxhash.New()
	var scratch [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		h.Write(scratch[:])
	}
	writeStr := func(s string) {
		writeU64(uint64(len(s)))
		h.Write([]byte(s))
	}
	writeType := func(t TypeDetail) {
		h.Write([]byte{byte(t.Variant)})
		writeStr(t.Name)
		writeU64(t.Size)
		writeU64(t.Alignment)
	}

	h.Write([]byte{byte(c.Pattern)})
	writeStr(c.Name)
	writeType(c.Payload)
	writeType(c.UserHeader)
	writeType(c.Request)
	writeType(c.Response)
	for _, v := range []uint64{
		c.PubSub.MaxPublishers, c.PubSub.MaxSubscribers, c.PubSub.MaxNodes,
		c.PubSub.HistorySize, c.PubSub.SubscriberMaxBufferSize,
		c.PubSub.SubscriberMaxBorrowedSamples, boolU64(c.PubSub.EnableSafeOverflow),
		c.PubSub.MaxSegments,
		c.Event.MaxNotifiers, c.Event.MaxListeners, c.Event.MaxNodes, c.Event.EventIDMaxValue,
		c.ReqRes.MaxClients, c.ReqRes.MaxServers, c.ReqRes.MaxNodes,
		c.ReqRes.MaxActiveRequestsPerClient, c.ReqRes.MaxResponseBufferSize,
		c.ReqRes.MaxBorrowedResponses, boolU64(c.ReqRes.EnableSafeOverflow),
	} {
		writeU64(v)
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Serialize encodes the config as a fixed-field little-endian record. The
// encoding is binary rather than textual so discovery paths can read it
// without a parse cost.
func (c *StaticConfig) Serialize() []byte {
	var buf bytes.Buffer
	w := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }
	ws := func(s string) {
		w(uint32(len(s)))
		buf.WriteString(s)
	}
	wt := func(t TypeDetail) {
		w(uint8(t.Variant))
		ws(t.Name)
		w(t.Size)
		w(t.Alignment)
	}

	w(FormatVersion)
	w(uint8(c.Pattern))
	ws(c.Name)
	ws(c.ServiceID)
	ws(c.UUID)
	w(c.CreatedAt)
	wt(c.Payload)
	wt(c.UserHeader)
	wt(c.Request)
	wt(c.Response)
	w(c.PubSub.MaxPublishers)
	w(c.PubSub.MaxSubscribers)
	w(c.PubSub.MaxNodes)
	w(c.PubSub.HistorySize)
	w(c.PubSub.SubscriberMaxBufferSize)
	w(c.PubSub.SubscriberMaxBorrowedSamples)
	w(boolU64(c.PubSub.EnableSafeOverflow))
	w(c.PubSub.MaxSegments)
	w(c.Event.MaxNotifiers)
	w(c.Event.MaxListeners)
	w(c.Event.MaxNodes)
	w(c.Event.EventIDMaxValue)
	w(c.ReqRes.MaxClients)
	w(c.ReqRes.MaxServers)
	w(c.ReqRes.MaxNodes)
	w(c.ReqRes.MaxActiveRequestsPerClient)
	w(c.ReqRes.MaxResponseBufferSize)
	w(c.ReqRes.MaxBorrowedResponses)
	w(boolU64(c.ReqRes.EnableSafeOverflow))
	w(uint32(len(c.Attributes)))
	for _, a := range c.Attributes {
		ws(a.Key)
		ws(a.Value)
	}
	return buf.Bytes()
}

// Deserialize decodes a record produced by Serialize, failing with
// ErrVersionMismatch when the format version differs.
func Deserialize(data []byte) (*StaticConfig, error) {
	r := bytes.NewReader(data)
	var failed error
	rd := func(v interface{}) {
		if failed == nil {
			failed = binary.Read(r, binary.LittleEndian, v)
		}
	}
	rs := func() string {
		var n uint32
		rd(&n)
		if failed != nil || uint32(r.Len()) < n {
			failed = ErrCorruptedConfig
			return ""
		}
		b := make([]byte, n)
		r.Read(b)
		return string(b)
	}
	rt := func(t *TypeDetail) {
		var variant uint8
		rd(&variant)
		t.Variant = TypeVariant(variant)
		t.Name = rs()
		rd(&t.Size)
		rd(&t.Alignment)
	}

	c := &StaticConfig{}
	rd(&c.Version)
	if failed != nil {
		return nil, ErrCorruptedConfig
	}
	if c.Version != FormatVersion {
		return nil, ErrVersionMismatch
	}
	var pattern uint8
	rd(&pattern)
	c.Pattern = MessagingPattern(pattern)
	c.Name = rs()
	c.ServiceID = rs()
	c.UUID = rs()
	rd(&c.CreatedAt)
	rt(&c.Payload)
	rt(&c.UserHeader)
	rt(&c.Request)
	rt(&c.Response)
	rd(&c.PubSub.MaxPublishers)
	rd(&c.PubSub.MaxSubscribers)
	rd(&c.PubSub.MaxNodes)
	rd(&c.PubSub.HistorySize)
	rd(&c.PubSub.SubscriberMaxBufferSize)
	rd(&c.PubSub.SubscriberMaxBorrowedSamples)
	var overflow uint64
	rd(&overflow)
	c.PubSub.EnableSafeOverflow = overflow == 1
	rd(&c.PubSub.MaxSegments)
	rd(&c.Event.MaxNotifiers)
	rd(&c.Event.MaxListeners)
	rd(&c.Event.MaxNodes)
	rd(&c.Event.EventIDMaxValue)
	rd(&c.ReqRes.MaxClients)
	rd(&c.ReqRes.MaxServers)
	rd(&c.ReqRes.MaxNodes)
	rd(&c.ReqRes.MaxActiveRequestsPerClient)
	rd(&c.ReqRes.MaxResponseBufferSize)
	rd(&c.ReqRes.MaxBorrowedResponses)
	rd(&overflow)
	c.ReqRes.EnableSafeOverflow = overflow == 1
	var attrCount uint32
	rd(&attrCount)
	if failed != nil {
		return nil, ErrCorruptedConfig
	}
	for i := uint32(0); i < attrCount; i++ {
		key := rs()
		value := rs()
		if failed != nil {
			return nil, ErrCorruptedConfig
		}
		c.Attributes = append(c.Attributes, Attribute{Key: key, Value: value})
	}
	if failed != nil {
		return nil, ErrCorruptedConfig
	}
	return c, nil
}
