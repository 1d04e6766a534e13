package register

import (
	"context"
	"encoding/json"

	"edgeless/internal/model"
)

// domainEvent is the wire shape published to the cross-domain pub/sub
// channel (SPEC_FULL.md "Domain registration handshake"). EDGELESS
// proper uses a gRPC domain-to-domain client for this; since the pack's
// only pub/sub-capable dependency is redis/go-redis, a domain mirror is
// the natural home for it rather than leaving Publish/Subscribe unused.
type domainEvent struct {
	Add  bool               `json:"add"`
	Node model.NodeDescriptor `json:"node,omitempty"`
	Id   model.NodeId       `json:"id,omitempty"`
}

// Publisher is satisfied by common/redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// DomainMirror republishes this register's membership changes to a Redis
// channel so a sibling domain's orchestrator can subscribe and reflect
// capacity without a direct API dependency between domains.
type DomainMirror struct {
	pub     Publisher
	channel string
}

func NewDomainMirror(pub Publisher, channel string) *DomainMirror {
	return &DomainMirror{pub: pub, channel: channel}
}

func (m *DomainMirror) OnAdd(ctx context.Context, node model.NodeDescriptor) error {
	raw, err := json.Marshal(domainEvent{Add: true, Node: node})
	if err != nil {
		return err
	}
	return m.pub.Publish(ctx, m.channel, raw)
}

func (m *DomainMirror) OnDel(ctx context.Context, id model.NodeId) error {
	raw, err := json.Marshal(domainEvent{Add: false, Id: id})
	if err != nil {
		return err
	}
	return m.pub.Publish(ctx, m.channel, raw)
}
