package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/agentctl/acpprovider"
	"github.com/paseo-dev/paseo/internal/agentmgr"
	"github.com/paseo-dev/paseo/internal/agentstore"
	"github.com/paseo-dev/paseo/internal/checkout"
	"github.com/paseo-dev/paseo/internal/common/config"
	"github.com/paseo-dev/paseo/internal/common/logger"
	"github.com/paseo-dev/paseo/internal/pairing"
	"github.com/paseo-dev/paseo/internal/relay"
	"github.com/paseo-dev/paseo/internal/sessionmux"
	"github.com/paseo-dev/paseo/internal/worktree"
	ws "github.com/paseo-dev/paseo/pkg/websocket"
)

// paseoSubstrate bundles the connection-substrate/session-multiplexer/
// agent-manager/checkout-engine components the daemon hosts: identity,
// the agent store, the agent manager, the checkout engine, the relay, and
// the websocket dispatcher main() mounts onto the HTTP router.
type paseoSubstrate struct {
	home       string
	identity   *pairing.KeyPair
	serverID   string
	store      *agentstore.Store
	agents     *agentmgr.Manager
	checkout   *checkout.Engine
	relay      *relay.Server
	dispatcher *ws.Dispatcher
}

// providerCommands maps a provider name (agentmgr.ManagedAgent.Provider) to
// the ACP-speaking CLI invocation that backs it. Each entry exercises the
// same acpprovider.Provider against a different subprocess, the polymorphism
// spec §9's provider abstraction calls for.
var providerCommands = map[string][]string{
	"claude": {"claude", "--acp"},
	"auggie": {"auggie", "--acp"},
	"gemini": {"gemini", "--acp"},
	"codex":  {"codex", "--acp"},
}

// resolveProvider builds an agentmgr.ProviderResolver backed by
// acpprovider.Provider, one instance per known provider name, lazily
// constructed and cached on first use.
func resolveProvider(log *logger.Logger) agentmgr.ProviderResolver {
	var mu sync.Mutex
	cache := make(map[string]agentmgr.Provider)

	return func(name string) (agentmgr.Provider, error) {
		mu.Lock()
		defer mu.Unlock()

		if p, ok := cache[name]; ok {
			return p, nil
		}
		cmd, ok := providerCommands[name]
		if !ok {
			return nil, fmt.Errorf("no provider registered for %q", name)
		}
		p := acpprovider.New(name, cmd, log)
		cache[name] = p
		return p, nil
	}
}

// expandHome resolves a leading "~" the way internal/worktree/config.go does.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// wirePaseoSubstrate constructs the daemon's own control-plane components
// (spec §4.1-§4.4) and registers their HTTP/websocket routes on router. It
// emits the one-line pairing-offer log entry on success (spec §4.1.1, §5:
// "idempotent and bounded to one line per daemon boot").
func wirePaseoSubstrate(ctx context.Context, cfg *config.Config, log *logger.Logger, router *gin.Engine) (*paseoSubstrate, error) {
	home, err := expandHome(cfg.Daemon.Home)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, err
	}

	serverID, keys, err := pairing.LoadOrCreateIdentity(home, cfg.Daemon.ServerID)
	if err != nil {
		return nil, err
	}

	store, err := agentstore.New(home, log)
	if err != nil {
		return nil, err
	}

	agents := agentmgr.NewManager(log, store, resolveProvider(log))

	worktreeCfg := worktree.Config{BasePath: filepath.Join(home, "worktrees")}
	checkoutEngine, err := checkout.New(worktreeCfg, log)
	if err != nil {
		return nil, err
	}

	relayServer := relay.NewServer(log, relay.DefaultIdleTTL, relay.DefaultHighWaterMark)
	go relayServer.RunGC(ctx)

	dispatcher := ws.NewDispatcher()
	registerSessionHandlers(dispatcher, agents, checkoutEngine, log)

	router.GET("/ws/:sessionId", func(c *gin.Context) {
		sessionmux.Serve(ctx, c.Writer, c.Request, c.Param("sessionId"), dispatcher, log)
	})
	router.GET("/relay/daemon/:sessionId", func(c *gin.Context) {
		relayServer.ServeDaemon(c.Writer, c.Request, c.Param("sessionId"))
	})
	router.GET("/relay/client/:sessionId", func(c *gin.Context) {
		relayServer.ServeClient(c.Writer, c.Request, c.Param("sessionId"))
	})

	offer, err := pairing.NewOffer(serverID, keys.Public, cfg.Daemon.RelayEndpoint)
	if err != nil {
		return nil, err
	}
	offerURL, err := pairing.URL(cfg.Daemon.Listen, offer)
	if err != nil {
		return nil, err
	}
	log.Info("paseo pairing offer ready", zap.String("server_id", serverID), zap.String("pairing_url", offerURL))

	router.GET("/pairing/offer", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"url": offerURL, "serverId": serverID})
	})

	return &paseoSubstrate{
		home:       home,
		identity:   keys,
		serverID:   serverID,
		store:      store,
		agents:     agents,
		checkout:   checkoutEngine,
		relay:      relayServer,
		dispatcher: dispatcher,
	}, nil
}
