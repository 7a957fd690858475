package session

import (
	"context"
	"fmt"
	"time"

	"github.com/coraltel/audiohookbridge/internal/audiohook"
	"github.com/coraltel/audiohookbridge/internal/mcp"
	"github.com/coraltel/audiohookbridge/internal/prompt"
	"github.com/coraltel/audiohookbridge/internal/tooldispatch"
	"github.com/coraltel/audiohookbridge/pkg/provider/realtime"
	"github.com/coraltel/audiohookbridge/pkg/types"
)

// providerConnectTimeout bounds the initial handshake with the model
// provider, separate from the per-call session lifetime.
const providerConnectTimeout = 15 * time.Second

// handleOpen negotiates media, classifies probe connections, and (for real
// calls) connects the model-provider session and starts the audio pipeline.
func (c *Controller) handleOpen(ctx context.Context, env *audiohook.Envelope) error {
	var params audiohook.OpenParams
	if err := audiohook.DecodeParams(env, &params); err != nil {
		return err
	}

	// The session id was fixed when the connection was accepted (see
	// internal/bridge): it comes from the carrier's session-id handshake
	// header, with a generated UUID only if that header is empty. The open
	// message does not supply one for the engine to adopt.

	if params.IsProbe() {
		c.mu.Lock()
		c.probe = true
		c.mu.Unlock()
		c.logger.Info("session: probe connection, replying opened with no media")
		return c.conn.SendOpened(ctx, audiohook.OpenedParams{Media: nil})
	}

	chosen, ok := c.negotiateMedia(ctx, params.Media)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.negotiated = chosen
	c.mu.Unlock()

	if err := c.conn.SendOpened(ctx, audiohook.OpenedParams{Media: []audiohook.MediaDescriptor{chosen}}); err != nil {
		return err
	}

	oc := parseOpenConfig(params.InputVariables, openDefaults{
		model:       c.cfg.Provider.Model,
		agentName:   c.cfg.Provider.DefaultAgentName,
		companyName: c.cfg.Provider.DefaultCompanyName,
		temperature: c.cfg.Provider.DefaultTemperature,
	})

	c.registerSessionMCPServers(ctx, oc.mcpServers)

	sessCfg := realtime.SessionConfig{
		Model:           oc.model,
		Voice:           oc.voice,
		Instructions:    c.composeInstructions(oc),
		Temperature:     oc.temperature,
		MaxOutputTokens: oc.maxOutputTokens,
		InputFormat:     c.providerInputFormat(),
		OutputFormat:    c.providerOutputFormat(),
	}

	sess, err := c.connectProvider(ctx, sessCfg)
	if err != nil {
		c.logger.Error("session: provider connection failed", "err", err)
		return c.conn.SendDisconnect(ctx, audiohook.DisconnectParams{Reason: "error", Info: err.Error()})
	}

	dispatcher, err := tooldispatch.New(c.mcpHost, sess, types.BudgetStandard,
		tooldispatch.WithAllowlist(c.cfg.DataActions.Allowlist),
		tooldispatch.WithMaxInvocations(c.cfg.DataActions.MaxInvocationsPerSession),
		tooldispatch.WithMaxArgBytes(c.cfg.DataActions.MaxArgBytes),
		tooldispatch.WithToolChoice(c.cfg.DataActions.ToolChoice),
	)
	if err != nil {
		_ = sess.Close()
		c.logger.Error("session: tool dispatcher setup failed", "err", err)
		return c.conn.SendDisconnect(ctx, audiohook.DisconnectParams{Reason: "error", Info: err.Error()})
	}

	c.mu.Lock()
	c.sess = sess
	c.dispatcher = dispatcher
	c.mu.Unlock()

	c.wireProviderCallbacks(sess, dispatcher)
	c.startDownlink(sess)

	return nil
}

// composeInstructions builds the final system prompt from the carrier's
// admin prompt plus negotiated agent/company identity and customer data.
func (c *Controller) composeInstructions(oc openConfig) string {
	var externalTools string
	if len(oc.dataActionIDs) > 0 {
		externalTools = fmt.Sprintf("Genesys data action tools are available (%d configured): %s", len(oc.dataActionIDs), oc.dataActionDescs)
	}
	return prompt.Compose(prompt.Config{
		Admin:                    oc.instructions,
		AgentName:                oc.agentName,
		CompanyName:              oc.companyName,
		CustomerData:             oc.customerData,
		Language:                 oc.language,
		ExternalToolInstructions: externalTools,
	})
}

// registerSessionMCPServers registers any per-call MCP servers named in the
// carrier's MCP_TOOLS_JSON input variable, prefixing each Name with the
// session id so concurrent calls sharing one Host never collide. The Host
// has no per-server unregister operation, so these registrations persist
// until the Host itself is closed at process shutdown — acceptable because
// Name collisions (the only observable effect) are avoided by the prefix.
func (c *Controller) registerSessionMCPServers(ctx context.Context, servers []mcp.ServerConfig) {
	if c.mcpHost == nil || len(servers) == 0 {
		return
	}
	sessionID := c.conn.SessionID()
	for _, s := range servers {
		s.Name = sessionID + ":" + s.Name
		if err := c.mcpHost.RegisterServer(ctx, s); err != nil {
			c.logger.Warn("session: failed to register per-call MCP server", "name", s.Name, "err", err)
		}
	}
}
