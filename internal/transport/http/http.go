// Package http exposes the orchestrator's control plane over HTTP using
// labstack/echo, following the route/handler split the teacher's
// cmd/orchestrator/{routes,handlers} packages use (SPEC_FULL.md "Ambient
// stack"). It is the human/CLI-facing surface; node-to-node RPC goes
// over internal/transport/grpc or internal/transport/coap instead.
package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/ratelimit"
	edgelessserver "edgeless/internal/server"
)

// OrchestratorBackend is the control-plane surface RegisterRoutes
// dispatches into; internal/orchestrator.Orchestrator implements it.
type OrchestratorBackend interface {
	StartFunction(ctx context.Context, req model.SpawnRequest) (model.LogicalId, error)
	StopFunction(ctx context.Context, lid model.LogicalId) error
	PatchFunction(ctx context.Context, lid model.LogicalId, patch map[string]model.LogicalId) error
}

// NodeRegistry is the node-membership surface RegisterRoutes dispatches
// node-join/leave requests into; internal/register.Register implements
// the fan-out half and internal/orchestrator.Orchestrator implements the
// placement half, so RegisterRoutes is wired with a small adapter that
// calls both (see cmd/orchestrator/main.go).
type NodeRegistry interface {
	RegisterNode(ctx context.Context, node model.NodeDescriptor) error
	DeregisterNode(ctx context.Context, id model.NodeId) error
}

type startFunctionRequest struct {
	ClassId     string            `json:"class_id"`
	ClassType   string            `json:"class_type"`
	Version     string            `json:"version"`
	Annotations map[string]string `json:"annotations"`
	Replication int               `json:"replication_factor"`
}

type startFunctionResponse struct {
	LogicalId string `json:"logical_id"`
}

type patchRequest struct {
	Outputs map[string]string `json:"outputs"`
}

type nodeRegistrationRequest struct {
	NodeId        string                        `json:"node_id"`
	AgentUrl      string                        `json:"agent_url"`
	InvocationUrl string                        `json:"invocation_url"`
	Capabilities  model.NodeCapabilities        `json:"capabilities"`
	ResourceProviders map[string]model.ResourceProviderDescriptor `json:"resource_providers"`
}

type controlPlaneHandler struct {
	log      *logger.Logger
	backend  OrchestratorBackend
	registry NodeRegistry
	health   *edgelessserver.Health
}

// RegisterRoutes wires the control-plane routes under /api/v1 (teacher's
// prefix convention), dispatching into backend's orchestrator methods and
// registry's node-membership methods. health may be nil, in which case
// /healthz reports unconditionally healthy.
func RegisterRoutes(e *echo.Echo, log *logger.Logger, backend OrchestratorBackend, registry NodeRegistry, health *edgelessserver.Health) {
	h := &controlPlaneHandler{log: log, backend: backend, registry: registry, health: health}
	group := e.Group("/api/v1")
	functions := group.Group("/functions")
	{
		functions.POST("", h.startFunction)
		functions.DELETE("/:lid", h.stopFunction)
		functions.POST("/:lid/patch", h.patchFunction)
	}
	nodes := group.Group("/nodes")
	{
		nodes.POST("", h.registerNode)
		nodes.DELETE("/:id", h.deregisterNode)
	}
	e.GET("/healthz", h.healthz)
}

func (h *controlPlaneHandler) startFunction(c echo.Context) error {
	var req startFunctionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	spawn := model.SpawnRequest{
		ClassSpec: model.FunctionClass{
			ClassId:   req.ClassId,
			ClassType: model.ClassType(req.ClassType),
			Version:   req.Version,
		},
		Annotations:       req.Annotations,
		ReplicationFactor: req.Replication,
	}
	lid, err := h.backend.StartFunction(c.Request().Context(), spawn)
	if err != nil {
		h.log.Error("start function failed", "error", err)
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, startFunctionResponse{LogicalId: lid.String()})
}

func (h *controlPlaneHandler) stopFunction(c echo.Context) error {
	lid, err := parseLid(c.Param("lid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := h.backend.StopFunction(c.Request().Context(), lid); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controlPlaneHandler) patchFunction(c echo.Context) error {
	lid, err := parseLid(c.Param("lid"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var req patchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	patch := make(map[string]model.LogicalId, len(req.Outputs))
	for channel, targetStr := range req.Outputs {
		target, err := parseLid(targetStr)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "bad target lid for " + channel})
		}
		patch[channel] = target
	}
	if err := h.backend.PatchFunction(c.Request().Context(), lid, patch); err != nil {
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controlPlaneHandler) registerNode(c echo.Context) error {
	var req nodeRegistrationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	id, err := parseNodeId(req.NodeId)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	node := model.NodeDescriptor{
		NodeId:            id,
		AgentUrl:          req.AgentUrl,
		InvocationUrl:     req.InvocationUrl,
		Capabilities:      req.Capabilities,
		ResourceProviders: req.ResourceProviders,
	}
	if err := h.registry.RegisterNode(c.Request().Context(), node); err != nil {
		h.log.Error("register node failed", "node_id", id, "error", err)
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controlPlaneHandler) deregisterNode(c echo.Context) error {
	id, err := parseNodeId(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := h.registry.DeregisterNode(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controlPlaneHandler) healthz(c echo.Context) error {
	if h.health == nil {
		return c.JSON(http.StatusOK, echo.Map{"status": "healthy"})
	}
	report := h.health.Check(c.Request().Context())
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, report)
}

func parseLid(s string) (model.LogicalId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return model.LogicalId{}, err
	}
	return model.LogicalId(u), nil
}

func parseNodeId(s string) (model.NodeId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return model.NodeId{}, err
	}
	return model.NodeId(u), nil
}

// GlobalRateLimitMiddleware rejects StartFunction bursts past limit per
// minute with 429, failing open (admitting the request) if Redis itself
// is unreachable since availability of the control plane matters more
// than strict enforcement under a Redis outage.
func GlobalRateLimitMiddleware(limiter *ratelimit.Limiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := limiter.CheckGlobal(c.Request().Context(), limit, 60)
			if err != nil {
				return next(c)
			}
			if !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":               "global_rate_limit_exceeded",
					"limit":               result.Limit,
					"retry_after_seconds": result.RetryAfterSeconds,
				})
			}
			return next(c)
		}
	}
}
