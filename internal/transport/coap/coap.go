// Package coap implements the invocation transport for constrained nodes
// over CoAP (spec.md §4.3 "Alternative invocation transports", §8
// scenario F), using plgd-dev/go-coap/v3 (SPEC_FULL.md "Domain stack").
// Unlike the gRPC stream, CoAP is datagram-oriented and unordered, so
// each node keeps a per-peer last-seen token to discard duplicates
// (spec.md §8 I5 "CoAP retransmission must not duplicate delivery").
package coap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	coapclient "github.com/plgd-dev/go-coap/v3/udp/client"

	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/transport"
)

const invokePath = "/edgeless/invoke"

type wireEvent struct {
	Target   model.InstanceId    `json:"target"`
	Source   model.InstanceId    `json:"source"`
	StreamId model.StreamId      `json:"stream_id"`
	Kind     model.EventKind     `json:"kind"`
	Payload  []byte              `json:"payload"`
	Metadata model.EventMetadata `json:"metadata"`
	Token    uint64              `json:"token"`
}

type wireOutcome struct {
	Outcome model.Outcome `json:"outcome"`
	Error   string        `json:"error,omitempty"`
}

// Dialer opens CoAP invocation clients to peer node addresses.
type Dialer struct {
	log *logger.Logger
}

func NewDialer(log *logger.Logger) *Dialer {
	return &Dialer{log: log}
}

func (d *Dialer) Dial(ctx context.Context, invocationUrl string) (transport.InvocationClient, error) {
	co, err := udp.Dial(invocationUrl)
	if err != nil {
		return nil, fmt.Errorf("coap: dial %s: %w", invocationUrl, err)
	}
	return &client{log: d.log, co: co}, nil
}

type client struct {
	log *logger.Logger
	co  *coapclient.Conn

	mu      sync.Mutex
	counter uint64
}

func (c *client) Handle(ctx context.Context, ev model.Event) (model.Outcome, error) {
	c.mu.Lock()
	c.counter++
	token := c.counter
	c.mu.Unlock()

	raw, err := json.Marshal(wireEvent{
		Target: ev.Target, Source: ev.Source, StreamId: ev.StreamId,
		Kind: ev.Kind, Payload: ev.Payload, Metadata: ev.Metadata, Token: token,
	})
	if err != nil {
		return model.OutcomeError, err
	}

	resp, err := c.co.Post(ctx, invokePath, message.AppJSON, bytes.NewReader(raw))
	if err != nil {
		return model.OutcomeError, fmt.Errorf("coap: post: %w", err)
	}
	body, err := resp.ReadBody()
	if err != nil {
		return model.OutcomeError, fmt.Errorf("coap: read response: %w", err)
	}
	var out wireOutcome
	if err := json.Unmarshal(body, &out); err != nil {
		return model.OutcomeError, fmt.Errorf("coap: decode outcome: %w", err)
	}
	return out.Outcome, nil
}

func (c *client) Close() error {
	return c.co.Close()
}

// Server exposes the invocation endpoint for inbound CoAP requests,
// deduplicating retransmissions per source node by last-seen token.
type Server struct {
	log     *logger.Logger
	handler func(ev model.Event) model.Outcome

	mu       sync.Mutex
	lastSeen map[model.NodeId]uint64
}

func NewServer(log *logger.Logger, handler func(ev model.Event) model.Outcome) *Server {
	return &Server{log: log, handler: handler, lastSeen: make(map[model.NodeId]uint64)}
}

func (s *Server) dedup(peer model.NodeId, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSeen[peer]
	if ok && token <= last {
		return true
	}
	s.lastSeen[peer] = token
	return false
}

func (s *Server) Decode(body []byte) (model.Event, bool, error) {
	var we wireEvent
	if err := json.Unmarshal(body, &we); err != nil {
		return model.Event{}, false, err
	}
	if s.dedup(we.Source.NodeId, we.Token) {
		return model.Event{}, true, nil
	}
	return model.Event{
		Target: we.Target, Source: we.Source, StreamId: we.StreamId,
		Kind: we.Kind, Payload: we.Payload, Metadata: we.Metadata,
	}, false, nil
}

func (s *Server) Dispatch(ev model.Event) []byte {
	outcome := s.handler(ev)
	raw, _ := json.Marshal(wireOutcome{Outcome: outcome})
	return raw
}

// ListenAndServe runs the CoAP invocation endpoint on addr until ctx is
// cancelled, blocking the calling goroutine.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	router := mux.NewRouter()
	if err := router.Handle(invokePath, mux.HandlerFunc(s.handleRequest)); err != nil {
		return fmt.Errorf("coap: register handler: %w", err)
	}

	srv := udp.NewServer(options.WithMux(router))
	ln, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("coap: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		srv.Stop()
		ln.Close()
	}()
	return srv.Serve(ln)
}

func (s *Server) handleRequest(w mux.ResponseWriter, r *mux.Message) {
	body, err := r.ReadBody()
	if err != nil {
		w.SetResponse(codes.BadRequest, message.TextPlain, nil)
		return
	}
	ev, duplicate, err := s.Decode(body)
	if err != nil {
		w.SetResponse(codes.BadRequest, message.TextPlain, nil)
		return
	}
	if duplicate {
		// spec.md §8 I5: a retransmitted request must not reach s.handler a
		// second time. Only the ack is rebuilt; Dispatch is never called.
		raw, _ := json.Marshal(wireOutcome{Outcome: model.OutcomeIgnored})
		w.SetResponse(codes.Valid, message.AppJSON, bytes.NewReader(raw))
		return
	}
	w.SetResponse(codes.Changed, message.AppJSON, bytes.NewReader(s.Dispatch(ev)))
}

