// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package iceoryx2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/iox2go/iceoryx2/internal/logx"
	"github.com/iox2go/iceoryx2/internal/registry"
	"github.com/iox2go/iceoryx2/internal/shm"
	"github.com/iox2go/iceoryx2/internal/transport"
)

// Request and response flows share one connection per (client, server)
// pair: channel 0 carries requests from the client, channel 1 carries
// responses back.
const (
	requestChannel  transport.ChannelID = 0
	responseChannel transport.ChannelID = 1
)

// PortFactoryRequestResponse represents an opened request-response service.
type PortFactoryRequestResponse struct {
	mu     sync.Mutex
	state  *serviceState
	node   *Node
	closed bool
}

// Client returns a builder for creating a new Client.
func (p *PortFactoryRequestResponse) Client() *ClientBuilder {
	return &ClientBuilder{factory: p, maxSliceLen: 1}
}

// Server returns a builder for creating a new Server.
func (p *PortFactoryRequestResponse) Server() *ServerBuilder {
	return &ServerBuilder{factory: p, maxSliceLen: 1}
}

// Attributes returns the service's attribute set.
func (p *PortFactoryRequestResponse) Attributes() *AttributeSet {
	return p.state.attrs
}

// StaticConfig returns the static configuration of the service.
func (p *PortFactoryRequestResponse) StaticConfig() *StaticConfigRequestResponse {
	caps := p.state.cfg.ReqRes
	req := p.state.cfg.Request
	resp := p.state.cfg.Response
	return &StaticConfigRequestResponse{
		MaxClients:                             caps.MaxClients,
		MaxServers:                             caps.MaxServers,
		MaxNodes:                               caps.MaxNodes,
		MaxActiveRequestsPerClient:             caps.MaxActiveRequestsPerClient,
		MaxResponseBufferSize:                  caps.MaxResponseBufferSize,
		MaxBorrowedResponsesPerPendingResponse: caps.MaxBorrowedResponses,
		EnableSafeOverflow:                     caps.EnableSafeOverflow,
		RequestTypeDetails: MessageTypeDetails{
			PayloadTypeName:  req.Name,
			PayloadSize:      req.Size,
			PayloadAlignment: req.Alignment,
		},
		ResponseTypeDetails: MessageTypeDetails{
			PayloadTypeName:  resp.Name,
			PayloadSize:      resp.Size,
			PayloadAlignment: resp.Alignment,
		},
	}
}

// ServiceName returns the name of the service.
func (p *PortFactoryRequestResponse) ServiceName() string {
	return p.state.key.name
}

// Close releases the resources associated with the factory.
// Implements io.Closer.
func (p *PortFactoryRequestResponse) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.node.untrack(p)
	p.state.releaseFactory()
	return nil
}

// reqResLink is one client-server connection: the client sends on the
// request channel and receives on the response channel, the server the
// other way around.
type reqResLink struct {
	conn         *transport.Connection
	reqSender    *transport.Sender
	reqReceiver  *transport.Receiver
	respSender   *transport.Sender
	respReceiver *transport.Receiver
	client       *Client
	server       *Server
}

// connectReqResLocked wires one client to one server. The service mutex
// must be held.
func connectReqResLocked(c *Client, srv *Server) {
	conn, err := transport.Create(c.svc.connectionConfigReqRes())
	if err != nil {
		logx.For("client").Errorf("connection to server %016x failed: %v", srv.id.value, err)
		return
	}
	link := &reqResLink{
		conn:         conn,
		reqSender:    transport.NewSender(conn),
		reqReceiver:  transport.NewReceiver(conn),
		respSender:   transport.NewSender(conn),
		respReceiver: transport.NewReceiver(conn),
		client:       c,
		server:       srv,
	}
	c.mu.Lock()
	c.links = append(c.links, link)
	c.mu.Unlock()
	srv.mu.Lock()
	srv.links = append(srv.links, link)
	srv.mu.Unlock()
}

// ClientBuilder is used to configure and create a Client.
type ClientBuilder struct {
	factory     *PortFactoryRequestResponse
	maxSliceLen uint64
	strategy    AllocationStrategy
	consumed    bool
}

// InitialMaxSliceLen sets the maximum request slice length.
func (b *ClientBuilder) InitialMaxSliceLen(n uint64) *ClientBuilder {
	if n > 0 {
		b.maxSliceLen = n
	}
	return b
}

// AllocationStrategy sets how the client's data segment grows.
func (b *ClientBuilder) AllocationStrategy(strategy AllocationStrategy) *ClientBuilder {
	b.strategy = strategy
	return b
}

func resizeStrategyFor(strategy AllocationStrategy) shm.ResizeStrategy {
	if strategy == AllocationStrategyBestFit {
		return shm.ResizeBestFit
	}
	return shm.ResizePowerOfTwo
}

// Create creates the Client.
func (b *ClientBuilder) Create() (*Client, error) {
	const op = "ClientBuilder.Create"
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	state := b.factory.state
	node := b.factory.node
	state.mu.Lock()
	defer state.mu.Unlock()
	state.reapDeadPortsLocked()

	c := &Client{
		svc:         state,
		node:        node,
		id:          newUniqueClientId(),
		maxSliceLen: b.maxSliceLen,
		refs:        make(map[transport.PointerOffset]int),
		pending:     make(map[uint64]*PendingResponse),
	}
	c.chunkLayout = chunkLayoutFor(state.cfg.Request, registry.TypeDetail{}, b.maxSliceLen)

	if err := state.registerPortLocked(c.id.value, node, registry.KindClient); err != nil {
		return nil, WrapError(op, ClientCreateErrorExceedsMaxSupportedClients)
	}

	caps := state.cfg.ReqRes
	bucketCount := maxU64(caps.MaxActiveRequestsPerClient, 1)*maxU64(caps.MaxServers, 1) + 2
	memory, err := shm.NewResizableMemory(
		state.provider,
		fmt.Sprintf("%sreq_%016x", state.prefix, c.id.value),
		shm.BucketLayout{Size: c.chunkLayout.Size, Alignment: c.chunkLayout.Alignment, Count: bucketCount},
		resizeStrategyFor(b.strategy),
		shm.RetainUntilPortDestruction,
		1,
	)
	if err != nil {
		state.dyn.Unregister(state.slots[c.id.value])
		delete(state.slots, c.id.value)
		return nil, WrapError(op, ClientCreateErrorExceedsMaxSupportedClients)
	}
	c.memory = memory

	state.clients[c.id.value] = c
	for _, srv := range state.servers {
		connectReqResLocked(c, srv)
	}
	node.registry.Track(nodeKindClient, c.id.value, state.key.name)
	node.track(c)
	return c, nil
}

// Client is a port that sends requests and receives responses.
type Client struct {
	mu   sync.Mutex
	svc  *serviceState
	node *Node
	id   UniqueClientId

	memory      *shm.ResizableMemory
	chunkLayout shm.Layout
	maxSliceLen uint64

	links   []*reqResLink
	refs    map[transport.PointerOffset]int
	pending map[uint64]*PendingResponse
	loaned  int
	closed  bool
}

// SendCopy sends a copy of the provided data as a request and returns a
// PendingResponse to receive the corresponding responses.
func (c *Client) SendCopy(data unsafe.Pointer, sizeOfElement, numberOfElements uint64) (*PendingResponse, error) {
	req, err := c.LoanSliceUninit(numberOfElements)
	if err != nil {
		return nil, err
	}
	payload := req.payloadBytes()
	total := sizeOfElement * numberOfElements
	if total > uint64(len(payload)) {
		req.Close()
		return nil, WrapError("Client.SendCopy", RequestSendErrorLoanExceedsMaxLoanSize)
	}
	copy(payload, unsafe.Slice((*byte)(data), total))
	return req.Send()
}

// SendCopyAs is a generic helper to send a copy of typed data.
func SendCopyAs[T any](c *Client, data *T) (*PendingResponse, error) {
	var zero T
	size := unsafe.Sizeof(zero)
	return c.SendCopy(unsafe.Pointer(data), uint64(size), 1)
}

// LoanSliceUninit loans memory from the client's data segment for zero-copy requests.
func (c *Client) LoanSliceUninit(numberOfElements uint64) (*RequestMut, error) {
	const op = "Client.LoanSliceUninit"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if numberOfElements > c.maxSliceLen {
		return nil, WrapError(op, LoanErrorExceedsMaxLoanSize)
	}
	c.reclaimRequestsLocked()

	ptr, chunk, err := c.memory.Allocate(c.chunkLayout)
	if err != nil {
		return nil, WrapError(op, LoanErrorOutOfMemory)
	}
	c.loaned++
	writeChunkHeader(chunk, c.id.value, numberOfElements, 0)
	return &RequestMut{
		client:           c,
		ptr:              ptr,
		chunk:            chunk,
		numberOfElements: numberOfElements,
	}, nil
}

// reclaimRequestsLocked drains every link's request release ring. c.mu must
// be held.
func (c *Client) reclaimRequestsLocked() {
	for _, link := range c.links {
		for {
			ptr, err := link.reqSender.Reclaim(requestChannel)
			if err != nil || ptr == nil {
				break
			}
			c.unrefLocked(*ptr)
		}
	}
}

func (c *Client) unrefLocked(ptr transport.PointerOffset) {
	c.refs[ptr]--
	if c.refs[ptr] <= 0 {
		delete(c.refs, ptr)
		c.memory.Deallocate(ptr, c.chunkLayout)
	}
}

// Close releases the client resources.
// Implements io.Closer interface.
func (c *Client) Close() error {
	c.svc.mu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.svc.mu.Unlock()
		return nil
	}
	c.closed = true
	delete(c.svc.clients, c.id.value)
	c.teardownConnectionsLocked()
	c.mu.Unlock()
	c.svc.mu.Unlock()

	c.node.registry.Untrack(nodeKindClient, c.id.value)
	c.node.untrack(c)
	c.svc.portClosed(c.id.value)
	return nil
}

// teardownLocked is the cleanup path for a client whose node died; the
// service mutex is already held.
func (c *Client) teardownLocked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.teardownConnectionsLocked()
}

// teardownConnectionsLocked severs every pending response and recovers
// outstanding request chunks. svc.mu and c.mu must be held.
func (c *Client) teardownConnectionsLocked() {
	for id, p := range c.pending {
		p.state.sever()
		delete(c.svc.requests, id)
	}
	c.pending = make(map[uint64]*PendingResponse)
	for _, link := range c.links {
		link.conn.MarkForDestruction()
		if link.server != nil {
			link.server.dropLink(link)
		}
		for {
			ptr, err := link.reqSender.Reclaim(requestChannel)
			if err != nil || ptr == nil {
				break
			}
			c.unrefLocked(*ptr)
		}
		link.reqSender.AcquireUsedOffsets(requestChannel, func(ptr transport.PointerOffset) {
			c.unrefLocked(ptr)
		})
	}
	c.links = nil
	if len(c.refs) == 0 && c.loaned == 0 {
		c.memory.Close()
	}
}

// ID returns the unique identifier of this client.
func (c *Client) ID() (*UniqueClientId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	id := c.id
	return &id, nil
}

// ServerBuilder is used to configure and create a Server.
type ServerBuilder struct {
	factory     *PortFactoryRequestResponse
	maxSliceLen uint64
	strategy    AllocationStrategy
	consumed    bool
}

// InitialMaxSliceLen sets the maximum response slice length.
func (b *ServerBuilder) InitialMaxSliceLen(n uint64) *ServerBuilder {
	if n > 0 {
		b.maxSliceLen = n
	}
	return b
}

// AllocationStrategy sets how the server's data segment grows.
func (b *ServerBuilder) AllocationStrategy(strategy AllocationStrategy) *ServerBuilder {
	b.strategy = strategy
	return b
}

// Create creates the Server.
func (b *ServerBuilder) Create() (*Server, error) {
	const op = "ServerBuilder.Create"
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	state := b.factory.state
	node := b.factory.node
	state.mu.Lock()
	defer state.mu.Unlock()
	state.reapDeadPortsLocked()

	srv := &Server{
		svc:         state,
		node:        node,
		id:          newUniqueServerId(),
		maxSliceLen: b.maxSliceLen,
		refs:        make(map[transport.PointerOffset]int),
	}
	srv.chunkLayout = chunkLayoutFor(state.cfg.Response, registry.TypeDetail{}, b.maxSliceLen)

	if err := state.registerPortLocked(srv.id.value, node, registry.KindServer); err != nil {
		return nil, WrapError(op, ServerCreateErrorExceedsMaxSupportedServers)
	}

	caps := state.cfg.ReqRes
	bucketCount := maxU64(caps.MaxResponseBufferSize, 1)*maxU64(caps.MaxClients, 1)*maxU64(caps.MaxActiveRequestsPerClient, 1) + 2
	memory, err := shm.NewResizableMemory(
		state.provider,
		fmt.Sprintf("%sresp_%016x", state.prefix, srv.id.value),
		shm.BucketLayout{Size: srv.chunkLayout.Size, Alignment: srv.chunkLayout.Alignment, Count: bucketCount},
		resizeStrategyFor(b.strategy),
		shm.RetainUntilPortDestruction,
		1,
	)
	if err != nil {
		state.dyn.Unregister(state.slots[srv.id.value])
		delete(state.slots, srv.id.value)
		return nil, WrapError(op, ServerCreateErrorExceedsMaxSupportedServers)
	}
	srv.memory = memory

	state.servers[srv.id.value] = srv
	for _, c := range state.clients {
		connectReqResLocked(c, srv)
	}
	node.registry.Track(nodeKindServer, srv.id.value, state.key.name)
	node.track(srv)
	return srv, nil
}

// Server is a port that receives requests and sends responses.
type Server struct {
	mu   sync.Mutex
	svc  *serviceState
	node *Node
	id   UniqueServerId

	memory      *shm.ResizableMemory
	chunkLayout shm.Layout
	maxSliceLen uint64

	links  []*reqResLink
	refs   map[transport.PointerOffset]int
	next   int
	loaned int
	closed bool
}

// HasRequests returns true if there are pending requests.
func (s *Server) HasRequests() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrServerClosed
	}
	for _, link := range s.links {
		if link.reqReceiver.HasData(requestChannel) {
			return true, nil
		}
	}
	return false, nil
}

// Receive receives the next request. Returns ErrNoData when no request is
// pending.
func (s *Server) Receive() (*ActiveRequest, error) {
	const op = "Server.Receive"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	s.reclaimResponsesLocked()

	for i := 0; i < len(s.links); i++ {
		link := s.links[(s.next+i)%len(s.links)]
		ptr, err := link.reqReceiver.Receive(requestChannel)
		if err != nil {
			if errors.Is(err, transport.ReceiveWouldExceedMaxBorrowValue) {
				return nil, WrapError(op, ReceiveErrorExceedsMaxBorrows)
			}
			return nil, WrapError(op, ReceiveErrorFailedToEstablishConnection)
		}
		if ptr == nil {
			continue
		}
		s.next = (s.next + i + 1) % len(s.links)

		chunk, err := link.client.memory.Translate(*ptr, link.client.chunkLayout.Size)
		if err != nil {
			link.reqReceiver.Release(*ptr, requestChannel)
			return nil, WrapError(op, ReceiveErrorUnableToMapSendersDataSegment)
		}
		_, numberOfElements, requestID := readChunkHeader(chunk)

		s.svc.mu.Lock()
		reqState := s.svc.requests[requestID]
		s.svc.mu.Unlock()
		if reqState == nil {
			// The client dropped the pending response before we picked the
			// request up; a severed placeholder keeps the handle usable.
			reqState = &requestState{id: requestID, client: link.client}
		}
		return &ActiveRequest{
			server:           s,
			link:             link,
			ptr:              *ptr,
			chunk:            chunk,
			state:            reqState,
			numberOfElements: numberOfElements,
		}, nil
	}
	return nil, ErrNoData
}

// reclaimResponsesLocked drains every link's response release ring. s.mu
// must be held.
func (s *Server) reclaimResponsesLocked() {
	for _, link := range s.links {
		for {
			ptr, err := link.respSender.Reclaim(responseChannel)
			if err != nil || ptr == nil {
				break
			}
			s.unrefLocked(*ptr)
		}
	}
}

func (s *Server) unrefLocked(ptr transport.PointerOffset) {
	s.refs[ptr]--
	if s.refs[ptr] <= 0 {
		delete(s.refs, ptr)
		s.memory.Deallocate(ptr, s.chunkLayout)
	}
}

// ReceiveWithContext waits for a request with context cancellation support.
func (s *Server) ReceiveWithContext(ctx context.Context, pollInterval time.Duration) (*ActiveRequest, error) {
	const op = "Server.ReceiveWithContext"
	if pollInterval == 0 {
		pollInterval = 10 * time.Millisecond
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, err := s.Receive()
	if !errors.Is(err, ErrNoData) {
		if err != nil {
			return nil, WrapError(op, err)
		}
		return req, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := s.Receive()
			if errors.Is(err, ErrNoData) {
				continue
			}
			if err != nil {
				return nil, WrapError(op, err)
			}
			return req, nil
		}
	}
}

// ReceiveChannel returns a channel that yields requests as they arrive.
func (s *Server) ReceiveChannel(ctx context.Context) <-chan *ActiveRequest {
	ch := make(chan *ActiveRequest)
	go func() {
		defer close(ch)
		for {
			req, err := s.ReceiveWithContext(ctx, 10*time.Millisecond)
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				req.Close()
				return
			case ch <- req:
			}
		}
	}()
	return ch
}

// InitialMaxSliceLen returns the maximum response slice length.
func (s *Server) InitialMaxSliceLen() uint64 {
	return s.maxSliceLen
}

// dropLink removes one connection after its client closed.
func (s *Server) dropLink(link *reqResLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.links {
		if l == link {
			s.links = append(s.links[:i], s.links[i+1:]...)
			break
		}
	}
}

// Close releases the server resources.
// Implements io.Closer interface.
func (s *Server) Close() error {
	s.svc.mu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.svc.mu.Unlock()
		return nil
	}
	s.closed = true
	delete(s.svc.servers, s.id.value)
	s.teardownConnectionsLocked()
	s.mu.Unlock()
	s.svc.mu.Unlock()

	s.node.registry.Untrack(nodeKindServer, s.id.value)
	s.node.untrack(s)
	s.svc.portClosed(s.id.value)
	return nil
}

// teardownLocked is the cleanup path for a server whose node died; the
// service mutex is already held.
func (s *Server) teardownLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.teardownConnectionsLocked()
}

// teardownConnectionsLocked recovers outstanding response chunks and
// detaches every client. svc.mu and s.mu must be held.
func (s *Server) teardownConnectionsLocked() {
	for _, link := range s.links {
		link.conn.MarkForDestruction()
		if link.client != nil {
			link.client.dropLink(link)
		}
		for {
			ptr, err := link.respSender.Reclaim(responseChannel)
			if err != nil || ptr == nil {
				break
			}
			s.unrefLocked(*ptr)
		}
		link.respSender.AcquireUsedOffsets(responseChannel, func(ptr transport.PointerOffset) {
			s.unrefLocked(ptr)
		})
	}
	s.links = nil
	if len(s.refs) == 0 && s.loaned == 0 {
		s.memory.Close()
	}
}

// dropLink removes one connection after its server closed.
func (c *Client) dropLink(link *reqResLink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.links {
		if l == link {
			c.links = append(c.links[:i], c.links[i+1:]...)
			break
		}
	}
}

// ID returns the unique identifier of this server.
func (s *Server) ID() (*UniqueServerId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	id := s.id
	return &id, nil
}

// RequestMut is a loaned request that can be written to and sent.
type RequestMut struct {
	client           *Client
	ptr              transport.PointerOffset
	chunk            []byte
	numberOfElements uint64
	done             bool
}

func (r *RequestMut) payloadBytes() []byte {
	cfg := r.client.svc.cfg
	_, payload := payloadRegion(r.chunk, 0, cfg.Request.Size*r.numberOfElements)
	return payload
}

// Payload returns a raw pointer to the request payload.
func (r *RequestMut) Payload() unsafe.Pointer {
	if r.done {
		return nil
	}
	payload := r.payloadBytes()
	if len(payload) == 0 {
		return nil
	}
	return unsafe.Pointer(&payload[0])
}

// RequestMutPayloadAs interprets the request payload as type T.
func RequestMutPayloadAs[T any](r *RequestMut) *T {
	return (*T)(r.Payload())
}

// Send delivers the request to every connected server and returns the
// PendingResponse tied to it.
func (r *RequestMut) Send() (*PendingResponse, error) {
	const op = "RequestMut.Send"
	if r.done {
		return nil, ErrHandleClosed
	}
	r.done = true

	c := r.client
	c.svc.mu.Lock()
	c.mu.Lock()
	c.loaned--
	if c.closed {
		c.mu.Unlock()
		c.svc.mu.Unlock()
		return nil, ErrClientClosed
	}

	if uint64(len(c.pending)) >= c.svc.cfg.ReqRes.MaxActiveRequestsPerClient {
		c.refs[r.ptr] = 1
		c.unrefLocked(r.ptr)
		c.mu.Unlock()
		c.svc.mu.Unlock()
		return nil, WrapError(op, RequestSendErrorExceedsMaxActiveReqs)
	}

	c.svc.nextRequestID++
	requestID := c.svc.nextRequestID
	writeChunkHeader(r.chunk, c.id.value, r.numberOfElements, requestID)

	state := &requestState{id: requestID, client: c, connected: true}
	pending := &PendingResponse{client: c, state: state}
	for _, link := range c.links {
		displaced, err := link.reqSender.TrySend(r.ptr, requestChannel)
		if err != nil {
			continue
		}
		c.refs[r.ptr]++
		pending.links = append(pending.links, link)
		if displaced != nil {
			c.unrefLocked(*displaced)
		}
	}
	if c.refs[r.ptr] == 0 {
		delete(c.refs, r.ptr)
		c.memory.Deallocate(r.ptr, c.chunkLayout)
	}

	c.pending[requestID] = pending
	c.svc.requests[requestID] = state
	c.mu.Unlock()
	c.svc.mu.Unlock()
	return pending, nil
}

// Close releases the request without sending it.
// Implements io.Closer.
func (r *RequestMut) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	c := r.client
	c.mu.Lock()
	c.loaned--
	c.refs[r.ptr] = 1
	c.unrefLocked(r.ptr)
	c.mu.Unlock()
	return nil
}

// ActiveRequest is a received request on the server side. Responses loaned
// from it flow back to the originating client until either side drops the
// request.
type ActiveRequest struct {
	server           *Server
	link             *reqResLink
	ptr              transport.PointerOffset
	chunk            []byte
	state            *requestState
	numberOfElements uint64
	done             bool
}

// Payload returns a raw pointer to the request payload.
func (r *ActiveRequest) Payload() unsafe.Pointer {
	if r.done {
		return nil
	}
	cfg := r.server.svc.cfg
	_, payload := payloadRegion(r.chunk, 0, cfg.Request.Size*r.numberOfElements)
	if len(payload) == 0 {
		return nil
	}
	return unsafe.Pointer(&payload[0])
}

// ActiveRequestPayloadAs interprets the request payload as type T.
func ActiveRequestPayloadAs[T any](r *ActiveRequest) *T {
	return (*T)(r.Payload())
}

// IsConnected reports whether the client still holds the PendingResponse
// for this request. A dropped PendingResponse severs only this request
// flow.
func (r *ActiveRequest) IsConnected() bool {
	return r.state.isConnected()
}

// SendCopy sends a copy of the provided data as a response.
func (r *ActiveRequest) SendCopy(data unsafe.Pointer, sizeOfElement, numberOfElements uint64) error {
	resp, err := r.LoanSliceUninit(numberOfElements)
	if err != nil {
		return err
	}
	payload := resp.payloadBytes()
	total := sizeOfElement * numberOfElements
	if total > uint64(len(payload)) {
		resp.Close()
		return WrapError("ActiveRequest.SendCopy", ResponseSendErrorLoanExceedsMaxLoanSize)
	}
	copy(payload, unsafe.Slice((*byte)(data), total))
	return resp.Send()
}

// ActiveRequestSendCopyAs is a generic helper to respond with typed data.
func ActiveRequestSendCopyAs[T any](r *ActiveRequest, data *T) error {
	var zero T
	return r.SendCopy(unsafe.Pointer(data), uint64(unsafe.Sizeof(zero)), 1)
}

// LoanSliceUninit loans memory for a zero-copy response.
func (r *ActiveRequest) LoanSliceUninit(numberOfElements uint64) (*ResponseMut, error) {
	const op = "ActiveRequest.LoanSliceUninit"
	if r.done {
		return nil, ErrHandleClosed
	}
	s := r.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	if numberOfElements > s.maxSliceLen {
		return nil, WrapError(op, LoanErrorExceedsMaxLoanSize)
	}
	s.reclaimResponsesLocked()

	ptr, chunk, err := s.memory.Allocate(s.chunkLayout)
	if err != nil {
		return nil, WrapError(op, LoanErrorOutOfMemory)
	}
	s.loaned++
	writeChunkHeader(chunk, s.id.value, numberOfElements, r.state.id)
	return &ResponseMut{
		server:           s,
		link:             r.link,
		ptr:              ptr,
		chunk:            chunk,
		numberOfElements: numberOfElements,
	}, nil
}

// Close releases the request chunk back to the client.
// Implements io.Closer.
func (r *ActiveRequest) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	return r.link.reqReceiver.Release(r.ptr, requestChannel)
}

// ResponseMut is a loaned response that can be written to and sent.
type ResponseMut struct {
	server           *Server
	link             *reqResLink
	ptr              transport.PointerOffset
	chunk            []byte
	numberOfElements uint64
	done             bool
}

func (r *ResponseMut) payloadBytes() []byte {
	cfg := r.server.svc.cfg
	_, payload := payloadRegion(r.chunk, 0, cfg.Response.Size*r.numberOfElements)
	return payload
}

// Payload returns a raw pointer to the response payload.
func (r *ResponseMut) Payload() unsafe.Pointer {
	if r.done {
		return nil
	}
	payload := r.payloadBytes()
	if len(payload) == 0 {
		return nil
	}
	return unsafe.Pointer(&payload[0])
}

// ResponseMutPayloadAs interprets the response payload as type T.
func ResponseMutPayloadAs[T any](r *ResponseMut) *T {
	return (*T)(r.Payload())
}

// Send delivers the response to the originating client.
func (r *ResponseMut) Send() error {
	const op = "ResponseMut.Send"
	if r.done {
		return ErrHandleClosed
	}
	r.done = true

	s := r.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaned--
	if s.closed {
		return ErrServerClosed
	}
	displaced, err := r.link.respSender.TrySend(r.ptr, responseChannel)
	if err != nil {
		s.refs[r.ptr] = 1
		s.unrefLocked(r.ptr)
		return WrapError(op, ResponseSendErrorConnectionBroken)
	}
	s.refs[r.ptr]++
	if displaced != nil {
		s.unrefLocked(*displaced)
	}
	return nil
}

// Close releases the response without sending it.
// Implements io.Closer.
func (r *ResponseMut) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	s := r.server
	s.mu.Lock()
	s.loaned--
	s.refs[r.ptr] = 1
	s.unrefLocked(r.ptr)
	s.mu.Unlock()
	return nil
}

// bufferedResponse is a response popped off a connection while looking for
// a different request's response; it waits in its owner's local buffer.
type bufferedResponse struct {
	link             *reqResLink
	ptr              transport.PointerOffset
	chunk            []byte
	serverID         uint64
	numberOfElements uint64
}

// PendingResponse is the client-side handle of one in-flight request.
type PendingResponse struct {
	client *Client
	state  *requestState
	links  []*reqResLink

	mu       sync.Mutex
	buffered []bufferedResponse
	done     bool
}

// Receive returns the next response for this request. Returns ErrNoData
// when none is pending.
func (p *PendingResponse) Receive() (*Response, error) {
	const op = "PendingResponse.Receive"
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil, ErrHandleClosed
	}
	if len(p.buffered) > 0 {
		b := p.buffered[0]
		p.buffered = p.buffered[1:]
		p.mu.Unlock()
		return &Response{link: b.link, ptr: b.ptr, chunk: b.chunk, serverID: b.serverID, numberOfElements: b.numberOfElements}, nil
	}
	p.mu.Unlock()

	// Responses for all of a client's requests share the connection's
	// response channel; pop and demultiplex by the request id stamped in
	// each chunk header.
	c := p.client
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, link := range p.links {
		for {
			ptr, err := link.respReceiver.Receive(responseChannel)
			if err != nil {
				if errors.Is(err, transport.ReceiveWouldExceedMaxBorrowValue) {
					return nil, WrapError(op, ReceiveErrorExceedsMaxBorrows)
				}
				break
			}
			if ptr == nil {
				break
			}
			chunk, terr := link.server.memory.Translate(*ptr, link.server.chunkLayout.Size)
			if terr != nil {
				link.respReceiver.Release(*ptr, responseChannel)
				return nil, WrapError(op, ReceiveErrorUnableToMapSendersDataSegment)
			}
			serverID, numberOfElements, requestID := readChunkHeader(chunk)
			resp := bufferedResponse{link: link, ptr: *ptr, chunk: chunk, serverID: serverID, numberOfElements: numberOfElements}
			if requestID == p.state.id {
				return &Response{link: resp.link, ptr: resp.ptr, chunk: resp.chunk, serverID: serverID, numberOfElements: numberOfElements}, nil
			}
			if other, ok := c.pending[requestID]; ok && other != p {
				other.mu.Lock()
				other.buffered = append(other.buffered, resp)
				other.mu.Unlock()
			} else {
				// Request no longer pending; hand the chunk straight back.
				link.respReceiver.Release(*ptr, responseChannel)
			}
		}
	}
	return nil, ErrNoData
}

// ReceiveWithContext waits for a response with context cancellation support.
func (p *PendingResponse) ReceiveWithContext(ctx context.Context, pollInterval time.Duration) (*Response, error) {
	const op = "PendingResponse.ReceiveWithContext"
	if pollInterval == 0 {
		pollInterval = 10 * time.Millisecond
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := p.Receive()
	if !errors.Is(err, ErrNoData) {
		if err != nil {
			return nil, WrapError(op, err)
		}
		return resp, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			resp, err := p.Receive()
			if errors.Is(err, ErrNoData) {
				continue
			}
			if err != nil {
				return nil, WrapError(op, err)
			}
			return resp, nil
		}
	}
}

// ReceiveChannel returns a channel that yields responses as they arrive.
func (p *PendingResponse) ReceiveChannel(ctx context.Context) <-chan *Response {
	ch := make(chan *Response)
	go func() {
		defer close(ch)
		for {
			resp, err := p.ReceiveWithContext(ctx, 10*time.Millisecond)
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				resp.Close()
				return
			case ch <- resp:
			}
		}
	}()
	return ch
}

// Close drops the pending response, severing this request flow: the
// server's ActiveRequest observes IsConnected() == false.
// Implements io.Closer.
func (p *PendingResponse) Close() error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil
	}
	p.done = true
	buffered := p.buffered
	p.buffered = nil
	p.mu.Unlock()

	p.state.sever()
	for _, b := range buffered {
		b.link.respReceiver.Release(b.ptr, responseChannel)
	}

	c := p.client
	c.svc.mu.Lock()
	c.mu.Lock()
	delete(c.pending, p.state.id)
	delete(c.svc.requests, p.state.id)
	c.mu.Unlock()
	c.svc.mu.Unlock()
	return nil
}

// Response is a received response on the client side.
type Response struct {
	link             *reqResLink
	ptr              transport.PointerOffset
	chunk            []byte
	serverID         uint64
	numberOfElements uint64
	done             bool
}

// Payload returns a raw pointer to the response payload.
func (r *Response) Payload() unsafe.Pointer {
	if r.done {
		return nil
	}
	cfg := r.link.server.svc.cfg
	_, payload := payloadRegion(r.chunk, 0, cfg.Response.Size*r.numberOfElements)
	if len(payload) == 0 {
		return nil
	}
	return unsafe.Pointer(&payload[0])
}

// ResponsePayloadAs interprets the response payload as type T.
func ResponsePayloadAs[T any](r *Response) *T {
	return (*T)(r.Payload())
}

// Close releases the response chunk back to the server.
// Implements io.Closer.
func (r *Response) Close() error {
	if r.done {
		return nil
	}
	r.done = true
	return r.link.respReceiver.Release(r.ptr, responseChannel)
}
