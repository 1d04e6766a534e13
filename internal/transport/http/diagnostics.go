package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"edgeless/internal/proxy"
)

// mirrorSource is satisfied by *proxy.Mirror.
type mirrorSource interface {
	Snapshot() proxy.Snapshot
}

// RegisterDiagnostics wires a read-only deployment-state endpoint backed
// by mirror, for operators inspecting placement without going through the
// durable store (SPEC_FULL.md "Proxy metrics mirror").
func RegisterDiagnostics(e *echo.Echo, mirror mirrorSource) {
	e.GET("/api/v1/diagnostics/mirror", func(c echo.Context) error {
		return c.JSON(http.StatusOK, mirror.Snapshot())
	})
}
