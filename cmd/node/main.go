package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"edgeless/internal/agent"
	"edgeless/internal/config"
	"edgeless/internal/dataplane"
	"edgeless/internal/logger"
	"edgeless/internal/model"
	edgelessruntime "edgeless/internal/runtime"
	"edgeless/internal/runtime/native"
	"edgeless/internal/runtime/wasm/wazero"
	"edgeless/internal/runtime/wasm/wasmtime"
	"edgeless/internal/resources/echo"
	"edgeless/internal/telemetry"
	transportcoap "edgeless/internal/transport/coap"
	transportgrpc "edgeless/internal/transport/grpc"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("node")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load node config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	selfId := model.NewNodeId()
	log.Info("node starting", "node_id", selfId, "wasm_engine", cfg.Node.WasmEngine)

	invocationDialer := transportgrpc.NewInvocationDialer(log)
	local := dataplane.NewLocalRouter()
	remote := dataplane.NewRemoteRouter(invocationDialer, log)
	dp := dataplane.New(selfId, local, remote, log)

	var telemSinks []telemetry.Sink
	if cfg.Telemetry.EnableMetrics {
		reg := prometheus.NewRegistry()
		telemSinks = append(telemSinks, telemetry.NewPrometheusSink(reg))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			log.Info("node metrics endpoint listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}
	telem := telemetry.NewHandle(log, telemSinks...)

	resolve, hostRegister, err := buildRuntime(ctx, cfg)
	if err != nil {
		log.Error("failed to set up function runtime", "error", err)
		os.Exit(1)
	}

	capabilities := model.NodeCapabilities{
		Labels:   cfg.Node.Labels,
		Runtimes: cfg.Node.Runtimes,
	}
	a := agent.New(log, cfg.Node, selfId, capabilities, dp, hostRegister, resolve, telem)
	a.RegisterResourceProvider(echo.Descriptor.ProviderId, echo.NewProvider())

	go func() {
		log.Info("node management endpoint listening", "addr", cfg.Node.ManagementAddr)
		if err := http.ListenAndServe(cfg.Node.ManagementAddr, a.Router()); err != nil {
			log.Error("node management server stopped", "error", err)
		}
	}()

	gs := grpc.NewServer()
	transportgrpc.RegisterAgentServer(gs, log, a)
	transportgrpc.RegisterInvocationServer(gs, log, dp)

	lis, err := net.Listen("tcp", cfg.Node.AgentUrl)
	if err != nil {
		log.Error("failed to listen on agent url", "addr", cfg.Node.AgentUrl, "error", err)
		os.Exit(1)
	}
	go func() {
		log.Info("node agent listening", "addr", cfg.Node.AgentUrl)
		if err := gs.Serve(lis); err != nil {
			log.Error("agent grpc server stopped", "error", err)
		}
	}()

	if cfg.Transport.CoAPEnabled {
		coapSrv := transportcoap.NewServer(log, dp.InboundFromPeer)
		go func() {
			log.Info("node coap invocation endpoint listening", "addr", cfg.Transport.CoAPAddr)
			if err := coapSrv.ListenAndServe(ctx, cfg.Transport.CoAPAddr); err != nil {
				log.Error("coap server stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("node shutting down")
	cancel()
	gs.GracefulStop()
	_ = a.Reset(context.Background())
}

// buildRuntime wires the configured WASM engine alongside the native
// runtime's built-in resource providers into a single factory resolver
// (spec.md §4.5 "class_type dispatch").
func buildRuntime(ctx context.Context, cfg *config.Config) (agent.FactoryResolver, *edgelessruntime.HostRegister, error) {
	nativeRegistry := native.NewRegistry()
	echo.Register(nativeRegistry)
	nativeFactory := nativeRegistry.NewFactory()

	var wasmFactory edgelessruntime.Factory
	var needsRegister bool

	switch cfg.Node.WasmEngine {
	case "wasmtime":
		eng := wasmtime.NewEngine()
		wasmFactory = eng.Factory()
		needsRegister = true
	default:
		eng, err := wazero.NewEngine(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("wazero engine: %w", err)
		}
		wasmFactory = eng.Factory()
		needsRegister = true
	}

	register := edgelessruntime.NewHostRegister(needsRegister)

	resolver := func(class model.FunctionClass) (edgelessruntime.Factory, error) {
		switch class.ClassType {
		case model.ClassTypeNative:
			return nativeFactory, nil
		case model.ClassTypeWasm, model.ClassTypeRust:
			return wasmFactory, nil
		default:
			return nil, fmt.Errorf("unknown class type: %s", class.ClassType)
		}
	}
	return resolver, register, nil
}
