// Package handler defines the message handler abstractions.
//
// Handlers are stored in per-mode tables keyed by reflect.Type, so the
// tables hold erased interfaces (CommandHandler, RequestHandler, ...)
// operating on `any`. Applications usually write typed handlers instead and
// wrap them with Command, Request, Response, Generator or Handshake, or pass
// a plain function to OnCommand, OnRequest, OnResponse or Generate. The
// wrappers perform a checked downcast before calling the typed code.
package handler

import (
	"context"
	"fmt"
	"reflect"
)

// CommandHandler handles fire-and-forget messages of one type.
type CommandHandler interface {
	// MessageType is the payload type this handler accepts.
	MessageType() reflect.Type

	// Execute handles one command.
	Execute(ctx context.Context, msg any) error
}

// RequestHandler handles requests of one type and produces a response.
type RequestHandler interface {
	// MessageType is the request payload type.
	MessageType() reflect.Type

	// ResponseType is the payload type returned by Execute.
	ResponseType() reflect.Type

	// Execute handles one request and returns the response payload.
	Execute(ctx context.Context, msg any) (any, error)
}

// ResponseKey identifies a response handler by the request it answers and
// the response payload type.
type ResponseKey struct {
	Request  reflect.Type
	Response reflect.Type
}

// String returns "Request->Response".
func (k ResponseKey) String() string {
	return fmt.Sprintf("%v->%v", k.Request, k.Response)
}

// ResponseHandler handles responses to previously sent requests.
type ResponseHandler interface {
	// Key is the (request type, response type) pair this handler accepts.
	Key() ResponseKey

	// Execute handles a response together with the request that caused it.
	Execute(ctx context.Context, req, resp any) error
}

// MessageGenerator produces payloads of one type on demand.
type MessageGenerator interface {
	// MessageType is the type of the produced payloads.
	MessageType() reflect.Type

	// GenerateMessage produces one payload.
	GenerateMessage(ctx context.Context) (any, error)
}

// typeOf returns the reflect.Type for T, including interface types.
func typeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// cast performs the checked downcast used by all typed wrappers.
func cast[T any](v any) (T, error) {
	m, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: got %T, want %v", ErrTypeMismatch, v, typeOf[T]())
	}
	return m, nil
}

// TypedCommandHandler handles commands of type T.
type TypedCommandHandler[T any] interface {
	HandleCommand(ctx context.Context, msg T) error
}

// CommandFunc adapts a function to TypedCommandHandler.
type CommandFunc[T any] func(ctx context.Context, msg T) error

// HandleCommand calls f.
func (f CommandFunc[T]) HandleCommand(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

type commandAdapter[T any] struct {
	h TypedCommandHandler[T]
}

// Command wraps a typed command handler for registration.
func Command[T any](h TypedCommandHandler[T]) CommandHandler {
	return commandAdapter[T]{h: h}
}

// OnCommand registers fn as the handler for commands of type T.
func OnCommand[T any](fn func(ctx context.Context, msg T) error) CommandHandler {
	return Command[T](CommandFunc[T](fn))
}

func (a commandAdapter[T]) MessageType() reflect.Type { return typeOf[T]() }

func (a commandAdapter[T]) Execute(ctx context.Context, msg any) error {
	m, err := cast[T](msg)
	if err != nil {
		return err
	}
	return a.h.HandleCommand(ctx, m)
}

// TypedRequestHandler handles requests of type Req with responses of type Resp.
type TypedRequestHandler[Req, Resp any] interface {
	HandleRequest(ctx context.Context, req Req) (Resp, error)
}

// RequestFunc adapts a function to TypedRequestHandler.
type RequestFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// HandleRequest calls f.
func (f RequestFunc[Req, Resp]) HandleRequest(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

type requestAdapter[Req, Resp any] struct {
	h TypedRequestHandler[Req, Resp]
}

// Request wraps a typed request handler for registration.
func Request[Req, Resp any](h TypedRequestHandler[Req, Resp]) RequestHandler {
	return requestAdapter[Req, Resp]{h: h}
}

// OnRequest registers fn as the handler for requests of type Req.
func OnRequest[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) RequestHandler {
	return Request[Req, Resp](RequestFunc[Req, Resp](fn))
}

func (a requestAdapter[Req, Resp]) MessageType() reflect.Type  { return typeOf[Req]() }
func (a requestAdapter[Req, Resp]) ResponseType() reflect.Type { return typeOf[Resp]() }

func (a requestAdapter[Req, Resp]) Execute(ctx context.Context, msg any) (any, error) {
	req, err := cast[Req](msg)
	if err != nil {
		return nil, err
	}
	resp, err := a.h.HandleRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// TypedResponseHandler handles responses of type Resp to requests of type Req.
type TypedResponseHandler[Req, Resp any] interface {
	HandleResponse(ctx context.Context, req Req, resp Resp) error
}

// ResponseFunc adapts a function to TypedResponseHandler.
type ResponseFunc[Req, Resp any] func(ctx context.Context, req Req, resp Resp) error

// HandleResponse calls f.
func (f ResponseFunc[Req, Resp]) HandleResponse(ctx context.Context, req Req, resp Resp) error {
	return f(ctx, req, resp)
}

type responseAdapter[Req, Resp any] struct {
	h TypedResponseHandler[Req, Resp]
}

// Response wraps a typed response handler for registration.
func Response[Req, Resp any](h TypedResponseHandler[Req, Resp]) ResponseHandler {
	return responseAdapter[Req, Resp]{h: h}
}

// OnResponse registers fn as the handler for Resp answers to Req requests.
func OnResponse[Req, Resp any](fn func(ctx context.Context, req Req, resp Resp) error) ResponseHandler {
	return Response[Req, Resp](ResponseFunc[Req, Resp](fn))
}

func (a responseAdapter[Req, Resp]) Key() ResponseKey {
	return ResponseKey{Request: typeOf[Req](), Response: typeOf[Resp]()}
}

func (a responseAdapter[Req, Resp]) Execute(ctx context.Context, req, resp any) error {
	r, err := cast[Req](req)
	if err != nil {
		return err
	}
	s, err := cast[Resp](resp)
	if err != nil {
		return err
	}
	return a.h.HandleResponse(ctx, r, s)
}

// TypedGenerator produces payloads of type T.
type TypedGenerator[T any] interface {
	Generate(ctx context.Context) (T, error)
}

// GeneratorFunc adapts a function to TypedGenerator.
type GeneratorFunc[T any] func(ctx context.Context) (T, error)

// Generate calls f.
func (f GeneratorFunc[T]) Generate(ctx context.Context) (T, error) {
	return f(ctx)
}

type generatorAdapter[T any] struct {
	g TypedGenerator[T]
}

// Generator wraps a typed generator for registration.
func Generator[T any](g TypedGenerator[T]) MessageGenerator {
	return generatorAdapter[T]{g: g}
}

// Generate registers fn as the generator for payloads of type T.
func Generate[T any](fn func(ctx context.Context) (T, error)) MessageGenerator {
	return Generator[T](GeneratorFunc[T](fn))
}

func (a generatorAdapter[T]) MessageType() reflect.Type { return typeOf[T]() }

func (a generatorAdapter[T]) GenerateMessage(ctx context.Context) (any, error) {
	return a.g.Generate(ctx)
}
