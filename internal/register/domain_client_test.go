package register

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgeless/internal/model"
)

func TestDomainClientRegisterPostsNodeDescriptor(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody domainNodeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	selfId := model.NewNodeId()
	client := NewDomainClient(srv.URL, selfId)
	descriptor := model.NodeDescriptor{
		AgentUrl:      "domain-a:7001",
		InvocationUrl: "domain-a:7002",
		Capabilities:  model.NodeCapabilities{Labels: []string{"domain"}},
	}
	require.NoError(t, client.Register(context.Background(), descriptor))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/nodes", gotPath)
	assert.Equal(t, selfId.String(), gotBody.NodeId)
	assert.Equal(t, "domain-a:7001", gotBody.AgentUrl)
}

func TestDomainClientRegisterSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewDomainClient(srv.URL, model.NewNodeId())
	assert.Error(t, client.Register(context.Background(), model.NodeDescriptor{}))
}

func TestDomainClientDeregister(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	selfId := model.NewNodeId()
	client := NewDomainClient(srv.URL, selfId)
	require.NoError(t, client.Deregister(context.Background()))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v1/nodes/"+selfId.String(), gotPath)
}
