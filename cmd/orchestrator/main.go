package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"edgeless/common/redis"
	"edgeless/internal/config"
	edgelessdb "edgeless/internal/db"
	"edgeless/internal/logger"
	"edgeless/internal/model"
	"edgeless/internal/orchestrator"
	"edgeless/internal/proxy"
	"edgeless/internal/ratelimit"
	"edgeless/internal/register"
	edgelessserver "edgeless/internal/server"
	edgelesshttp "edgeless/internal/transport/http"
	transportgrpc "edgeless/internal/transport/grpc"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("orchestrator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load orchestrator config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	log.Info("orchestrator starting", "port", cfg.Service.HTTPPort)

	store, conn, err := buildStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to set up instance store", "error", err)
		os.Exit(1)
	}

	selfId := model.NewNodeId()
	dialer := transportgrpc.NewAgentDialer(log)
	orc := orchestrator.New(log, cfg.Orchestrator, store, dialer)
	mirror := proxy.NewMirror()
	orc.AttachMirror(mirror)
	reg := register.New(log, dialer)
	nodeRegistry := &orchestratorNodeRegistry{register: reg, orc: orc}

	health := edgelessserver.NewHealth()
	if conn != nil {
		health.Register("database", conn.Health)
	}

	e := setupEcho()
	setupMiddleware(e)
	if cfg.Redis.Enabled {
		rc := redis.NewClient(goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}), log)
		limiter := ratelimit.New(rc.GetUnderlying(), log)
		e.Use(edgelesshttp.GlobalRateLimitMiddleware(limiter, 1000))
		domainMirror := register.NewDomainMirror(rc, "edgeless.nodes")
		nodeRegistry.mirror = domainMirror
	}
	edgelesshttp.RegisterRoutes(e, log, orc, nodeRegistry, health)
	edgelesshttp.RegisterDiagnostics(e, mirror)

	if cfg.Orchestrator.ParentUrl != "" {
		domainClient := register.NewDomainClient(cfg.Orchestrator.ParentUrl, selfId)
		self := model.NodeDescriptor{
			AgentUrl:      cfg.Orchestrator.AgentUrl,
			InvocationUrl: cfg.Orchestrator.InvocationUrl,
		}
		if err := domainClient.Register(ctx, self); err != nil {
			log.Error("domain registration with parent orchestrator failed", "parent_url", cfg.Orchestrator.ParentUrl, "error", err)
		} else {
			log.Info("registered with parent orchestrator", "parent_url", cfg.Orchestrator.ParentUrl)
		}
		defer func() {
			if err := domainClient.Deregister(context.Background()); err != nil {
				log.Warn("domain deregistration with parent orchestrator failed", "error", err)
			}
		}()
	}

	sweep := cron.New()
	if _, err := sweep.AddFunc("@every 30s", func() {
		orc.ReconcileAll(ctx)
	}); err != nil {
		log.Error("failed to schedule degraded-instance sweep", "error", err)
		os.Exit(1)
	}
	sweep.Start()
	defer sweep.Stop()

	srv := edgelessserver.New("orchestrator control plane", cfg.Service.HTTPPort, e, log)
	if err := srv.Start(); err != nil {
		log.Error("control plane server stopped", "error", err)
		os.Exit(1)
	}
	cancel()
}

func buildStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (orchestrator.Store, *edgelessdb.DB, error) {
	if !cfg.Database.Enabled {
		log.Warn("POSTGRES_ENABLED=false: using in-memory instance store, state will not survive a restart")
		return orchestrator.NewInMemoryStore(), nil, nil
	}
	conn, err := edgelessdb.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	store, err := orchestrator.NewPGStore(ctx, conn.Pool)
	if err != nil {
		return nil, nil, err
	}
	return store, conn, nil
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// orchestratorNodeRegistry joins the node register's peer fan-out with the
// orchestrator's placement membership: a node join/leave must update both,
// since neither package depends on the other (spec.md §4.2 node register,
// §3 placement candidate set). When Redis is configured, it also mirrors
// membership changes to a sibling domain's orchestrator over pub/sub.
type orchestratorNodeRegistry struct {
	register *register.Register
	orc      *orchestrator.Orchestrator
	mirror   *register.DomainMirror
}

func (n *orchestratorNodeRegistry) RegisterNode(ctx context.Context, node model.NodeDescriptor) error {
	if err := n.register.UpdateNode(ctx, node); err != nil {
		return err
	}
	if n.mirror != nil {
		if err := n.mirror.OnAdd(ctx, node); err != nil {
			return err
		}
	}
	return n.orc.AddNode(ctx, node)
}

func (n *orchestratorNodeRegistry) DeregisterNode(ctx context.Context, id model.NodeId) error {
	if err := n.register.DeregisterNode(ctx, id); err != nil {
		return err
	}
	if n.mirror != nil {
		if err := n.mirror.OnDel(ctx, id); err != nil {
			return err
		}
	}
	return n.orc.DelNode(ctx, id)
}

