package serializer

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"google.golang.org/protobuf/proto"
)

// TagLengthSize is the size of the tag length prefix in an encoded payload.
const TagLengthSize = 2

type entry struct {
	tag        string
	typ        reflect.Type
	serializer Serializer
}

// Registry maps payload types to tags and serializers.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*entry
	byTag  map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*entry),
		byTag:  make(map[string]*entry),
	}
}

// Register adds a serializer for typ under the given wire tag.
func (r *Registry) Register(tag string, typ reflect.Type, s Serializer) error {
	if tag == "" || len(tag) > math.MaxUint16 {
		return fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	if typ == nil || s == nil {
		return fmt.Errorf("serializer: nil type or serializer for tag %q", tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byType[typ]; ok {
		return fmt.Errorf("%w: type %v", ErrDuplicate, typ)
	}
	if _, ok := r.byTag[tag]; ok {
		return fmt.Errorf("%w: tag %q", ErrDuplicate, tag)
	}

	e := &entry{tag: tag, typ: typ, serializer: s}
	r.byType[typ] = e
	r.byTag[tag] = e
	return nil
}

// Add registers s for the type T.
func Add[T any](r *Registry, tag string, s Serializer) error {
	return r.Register(tag, typeOf[T](), s)
}

// AddProto registers the protobuf message type T using its full message name as tag.
func AddProto[T proto.Message](r *Registry) error {
	var zero T
	tag := string(zero.ProtoReflect().Descriptor().FullName())
	return r.Register(tag, typeOf[T](), Proto[T]())
}

// AddJSON registers T with a JSON serializer.
func AddJSON[T any](r *Registry, tag string) error {
	return r.Register(tag, typeOf[T](), JSON[T]())
}

// Has reports whether typ has a registered serializer.
func (r *Registry) Has(typ reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byType[typ]
	return ok
}

// Lookup returns the tag and serializer registered for typ.
func (r *Registry) Lookup(typ reflect.Type) (string, Serializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byType[typ]
	if !ok {
		return "", nil, false
	}
	return e.tag, e.serializer, true
}

// LookupTag returns the type and serializer registered under tag.
func (r *Registry) LookupTag(tag string) (reflect.Type, Serializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTag[tag]
	if !ok {
		return nil, nil, false
	}
	return e.typ, e.serializer, true
}

// Types returns the registered types ordered by tag.
func (r *Registry) Types() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	types := make([]reflect.Type, 0, len(tags))
	for _, tag := range tags {
		types = append(types, r.byTag[tag].typ)
	}
	return types
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}

func (r *Registry) lookupValue(v any) (*entry, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: <nil>", ErrUnknownType)
	}
	typ := reflect.TypeOf(v)

	r.mu.RLock()
	e, ok := r.byType[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, typ)
	}
	return e, nil
}

// PayloadSize returns the encoded size of v including its tag.
func (r *Registry) PayloadSize(v any) (int, error) {
	e, err := r.lookupValue(v)
	if err != nil {
		return 0, err
	}
	n, err := e.serializer.Size(v)
	if err != nil {
		return 0, err
	}
	return TagLengthSize + len(e.tag) + n, nil
}

// AppendPayload appends the tagged encoding of v to dst.
func (r *Registry) AppendPayload(dst []byte, v any) ([]byte, error) {
	e, err := r.lookupValue(v)
	if err != nil {
		return dst, err
	}
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(e.tag)))
	dst = append(dst, e.tag...)
	return e.serializer.Append(dst, v)
}

// DecodePayload decodes a tagged payload produced by AppendPayload.
func (r *Registry) DecodePayload(data []byte) (any, error) {
	if len(data) < TagLengthSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	tagLen := int(binary.LittleEndian.Uint16(data))
	if len(data) < TagLengthSize+tagLen {
		return nil, fmt.Errorf("%w: tag length %d exceeds %d bytes", ErrMalformed, tagLen, len(data)-TagLengthSize)
	}
	tag := string(data[TagLengthSize : TagLengthSize+tagLen])

	r.mu.RLock()
	e, ok := r.byTag[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}

	v, err := e.serializer.Unmarshal(data[TagLengthSize+tagLen:])
	if err != nil {
		return nil, fmt.Errorf("serializer: decode %q: %w", tag, err)
	}
	return v, nil
}
