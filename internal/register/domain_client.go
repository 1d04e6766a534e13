package register

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"edgeless/internal/model"
)

// domainNodeRequest mirrors internal/transport/http.nodeRegistrationRequest:
// a DomainClient registers with a parent orchestrator the same way a node
// registers with its own domain's register (SPEC_FULL.md "Domain
// registration handshake").
type domainNodeRequest struct {
	NodeId            string                                       `json:"node_id"`
	AgentUrl          string                                       `json:"agent_url"`
	InvocationUrl     string                                       `json:"invocation_url"`
	Capabilities      model.NodeCapabilities                       `json:"capabilities"`
	ResourceProviders map[string]model.ResourceProviderDescriptor `json:"resource_providers"`
}

// DomainClient registers this orchestrator's domain with a parent
// orchestrator's node-register HTTP endpoint, advertising the domain
// itself as if it were a single capacious node (spec.md's federation is
// recursive: a domain looks like a node to its parent). Optional: a
// domain root is never given one.
type DomainClient struct {
	httpClient *http.Client
	parentUrl  string
	selfId     model.NodeId
}

func NewDomainClient(parentUrl string, selfId model.NodeId) *DomainClient {
	return &DomainClient{httpClient: &http.Client{}, parentUrl: parentUrl, selfId: selfId}
}

// Register advertises this domain to the parent under descriptor, the
// domain-level analogue of Register.UpdateNode.
func (c *DomainClient) Register(ctx context.Context, descriptor model.NodeDescriptor) error {
	body := domainNodeRequest{
		NodeId:            c.selfId.String(),
		AgentUrl:          descriptor.AgentUrl,
		InvocationUrl:     descriptor.InvocationUrl,
		Capabilities:      descriptor.Capabilities,
		ResourceProviders: descriptor.ResourceProviders,
	}
	return c.post(ctx, http.MethodPost, "/api/v1/nodes", body)
}

// Deregister withdraws this domain from the parent, the domain-level
// analogue of Register.DeregisterNode.
func (c *DomainClient) Deregister(ctx context.Context) error {
	return c.post(ctx, http.MethodDelete, "/api/v1/nodes/"+c.selfId.String(), nil)
}

func (c *DomainClient) post(ctx context.Context, method, path string, body any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.parentUrl+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("register: domain handshake with %s: %w", c.parentUrl, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("register: domain handshake with %s: status %d", c.parentUrl, resp.StatusCode)
	}
	return nil
}
