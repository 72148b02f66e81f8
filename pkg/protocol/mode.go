package protocol

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/backkem/protoorch/pkg/handler"
	"github.com/backkem/protoorch/pkg/serializer"
)

// Mode is one set of handler and serializer registrations, representing a
// protocol version or phase. Handler tables are keyed by payload type;
// response handlers by (request type, response type).
type Mode struct {
	// Number identifies the mode. Modes are numbered contiguously from 0.
	Number int

	// Serializers encodes the payloads exchanged in this mode.
	Serializers *serializer.Registry

	Commands   map[reflect.Type]handler.CommandHandler
	Requests   map[reflect.Type]handler.RequestHandler
	Responses  map[handler.ResponseKey]handler.ResponseHandler
	Generators map[reflect.Type]handler.MessageGenerator
}

// NewMode creates a mode with empty handler tables.
// A nil registry is replaced by an empty one.
func NewMode(number int, serializers *serializer.Registry) *Mode {
	if serializers == nil {
		serializers = serializer.NewRegistry()
	}
	return &Mode{
		Number:      number,
		Serializers: serializers,
		Commands:    make(map[reflect.Type]handler.CommandHandler),
		Requests:    make(map[reflect.Type]handler.RequestHandler),
		Responses:   make(map[handler.ResponseKey]handler.ResponseHandler),
		Generators:  make(map[reflect.Type]handler.MessageGenerator),
	}
}

// HandleCommand registers h under its declared message type.
func (m *Mode) HandleCommand(h handler.CommandHandler) *Mode {
	m.Commands[h.MessageType()] = h
	return m
}

// HandleRequest registers h under its declared request type.
func (m *Mode) HandleRequest(h handler.RequestHandler) *Mode {
	m.Requests[h.MessageType()] = h
	return m
}

// HandleResponse registers h under its (request, response) key.
func (m *Mode) HandleResponse(h handler.ResponseHandler) *Mode {
	m.Responses[h.Key()] = h
	return m
}

// AddGenerator registers g under its produced type.
func (m *Mode) AddGenerator(g handler.MessageGenerator) *Mode {
	m.Generators[g.MessageType()] = g
	return m
}

// Command returns the command handler for typ.
func (m *Mode) Command(typ reflect.Type) (handler.CommandHandler, bool) {
	h, ok := m.Commands[typ]
	return h, ok
}

// Request returns the request handler for typ.
func (m *Mode) Request(typ reflect.Type) (handler.RequestHandler, bool) {
	h, ok := m.Requests[typ]
	return h, ok
}

// Response returns the response handler for the given request and response types.
func (m *Mode) Response(req, resp reflect.Type) (handler.ResponseHandler, bool) {
	h, ok := m.Responses[handler.ResponseKey{Request: req, Response: resp}]
	return h, ok
}

// Generator returns the generator for typ.
func (m *Mode) Generator(typ reflect.Type) (handler.MessageGenerator, bool) {
	g, ok := m.Generators[typ]
	return g, ok
}

// Validate checks the mode and returns every problem found.
func (m *Mode) Validate() []error {
	var errs []error

	if m.Serializers == nil {
		errs = append(errs, fmt.Errorf("%w: serializer registry", ErrNilTable))
	}
	if m.Commands == nil {
		errs = append(errs, fmt.Errorf("%w: command handlers", ErrNilTable))
	}
	if m.Requests == nil {
		errs = append(errs, fmt.Errorf("%w: request handlers", ErrNilTable))
	}
	if m.Responses == nil {
		errs = append(errs, fmt.Errorf("%w: response handlers", ErrNilTable))
	}
	if m.Generators == nil {
		errs = append(errs, fmt.Errorf("%w: generators", ErrNilTable))
	}

	for key, g := range m.Generators {
		if g == nil {
			errs = append(errs, fmt.Errorf("%w: generator for %v", ErrNilTable, key))
			continue
		}
		if g.MessageType() != key {
			errs = append(errs, fmt.Errorf("%w: registered as %v, produces %v", ErrGeneratorMismatch, key, g.MessageType()))
		}
	}

	referenced := make(map[reflect.Type]struct{})
	for key, h := range m.Commands {
		referenced[key] = struct{}{}
		if h == nil {
			errs = append(errs, fmt.Errorf("%w: command handler for %v", ErrNilTable, key))
		} else if h.MessageType() != key {
			errs = append(errs, fmt.Errorf("%w: command registered as %v, handles %v", ErrHandlerMismatch, key, h.MessageType()))
		}
	}
	for key, h := range m.Requests {
		referenced[key] = struct{}{}
		if h == nil {
			errs = append(errs, fmt.Errorf("%w: request handler for %v", ErrNilTable, key))
			continue
		}
		if h.MessageType() != key {
			errs = append(errs, fmt.Errorf("%w: request registered as %v, handles %v", ErrHandlerMismatch, key, h.MessageType()))
		}
		referenced[h.ResponseType()] = struct{}{}
	}
	for key, h := range m.Responses {
		referenced[key.Request] = struct{}{}
		referenced[key.Response] = struct{}{}
		if h == nil {
			errs = append(errs, fmt.Errorf("%w: response handler for %v", ErrNilTable, key))
		} else if h.Key() != key {
			errs = append(errs, fmt.Errorf("%w: response registered as %v, handles %v", ErrHandlerMismatch, key, h.Key()))
		}
	}
	for key := range m.Generators {
		referenced[key] = struct{}{}
	}

	if m.Serializers != nil {
		var missing []string
		for typ := range referenced {
			if typ == nil || !m.Serializers.Has(typ) {
				missing = append(missing, fmt.Sprint(typ))
			}
		}
		sort.Strings(missing)
		for _, name := range missing {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSerializer, name))
		}
	}

	return errs
}
