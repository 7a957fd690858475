package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/coraltel/audiohookbridge/internal/audiohook"
	"github.com/coraltel/audiohookbridge/internal/mcp"
)

// inputVariable names recognised in the carrier's "open" message, matching
// the carrier-integration convention of upper-snake-case session variables.
const (
	varVoice           = "OPENAI_VOICE"
	varSystemPrompt    = "OPENAI_SYSTEM_PROMPT"
	varTemperature     = "OPENAI_TEMPERATURE"
	varModel           = "OPENAI_MODEL"
	varMaxOutputTokens = "OPENAI_MAX_OUTPUT_TOKENS"
	varLanguage        = "LANGUAGE"
	varCustomerData    = "CUSTOMER_DATA"
	varAgentName       = "AGENT_NAME"
	varCompanyName     = "COMPANY_NAME"
	varDataActionIDs   = "DATA_ACTION_IDS"
	varDataActionDescs = "DATA_ACTION_DESCRIPTIONS"
	varMCPToolsJSON    = "MCP_TOOLS_JSON"
)

const defaultVoice = "echo"
const defaultInstructions = "You are a helpful assistant."

// openConfig holds the session parameters extracted from a carrier's
// inputVariables, all validated/defaulted and ready to build a
// realtime.SessionConfig from.
type openConfig struct {
	voice              string
	instructions       string
	temperature        float64
	model              string
	maxOutputTokens    int // 0 means unlimited ("inf")
	language           string
	customerData       string
	agentName          string
	companyName        string
	dataActionIDs      []string
	dataActionDescs    string
	externalToolPrompt string
	mcpServers         []mcp.ServerConfig
}

// stringVar returns inputVariables[key] as a string, tolerating the
// carrier's tendency to send whitespace-padded keys.
func stringVar(vars map[string]any, key string) string {
	if vars == nil {
		return ""
	}
	for k, v := range vars {
		if strings.TrimSpace(k) != key {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// parseOpenConfig extracts and validates session configuration from an
// "open" message's inputVariables, applying the same defaults and
// range-clamping as the model-provider client's own input validation.
func parseOpenConfig(vars map[string]any, cfg openDefaults) openConfig {
	oc := openConfig{
		voice:        stringVar(vars, varVoice),
		instructions: stringVar(vars, varSystemPrompt),
		model:        stringVar(vars, varModel),
		language:     stringVar(vars, varLanguage),
		customerData: stringVar(vars, varCustomerData),
		agentName:    stringVar(vars, varAgentName),
		companyName:  stringVar(vars, varCompanyName),
	}

	if oc.voice == "" {
		oc.voice = defaultVoice
	}
	if oc.instructions == "" {
		oc.instructions = defaultInstructions
	}
	if oc.model == "" {
		oc.model = cfg.model
	}
	if oc.agentName == "" {
		oc.agentName = cfg.agentName
	}
	if oc.companyName == "" {
		oc.companyName = cfg.companyName
	}

	oc.temperature = clampTemperature(stringVar(vars, varTemperature), cfg.temperature)
	oc.maxOutputTokens = parseMaxOutputTokens(stringVar(vars, varMaxOutputTokens))

	oc.dataActionIDs = parseDataActionIDs(stringVar(vars, varDataActionIDs))
	oc.dataActionDescs = stringVar(vars, varDataActionDescs)
	oc.mcpServers = parseMCPToolsJSON(stringVar(vars, varMCPToolsJSON))

	return oc
}

// openDefaults carries the deployment-wide fallbacks used when a carrier
// session does not supply its own value.
type openDefaults struct {
	model       string
	agentName   string
	companyName string
	temperature float64
}

// clampTemperature parses raw (if non-empty) and clamps it to the legal
// [0.6, 1.2] range, mirroring the provider's own validation. An empty or
// unparsable raw value falls back to fallback.
func clampTemperature(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	if t < 0.6 {
		return 0.6
	}
	if t > 1.2 {
		return 1.2
	}
	return t
}

// parseMaxOutputTokens parses raw as either "inf" or a decimal integer in
// [1, 4096]. Any other value, including an empty string, means "unlimited"
// (returned as 0, the SessionConfig sentinel for no limit).
func parseMaxOutputTokens(raw string) int {
	if raw == "" {
		return 0
	}
	if strings.EqualFold(raw, "inf") {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 4096 {
		return 0
	}
	return n
}

// parseDataActionIDs splits a comma-separated DATA_ACTION_IDS value into a
// trimmed, non-empty id list.
func parseDataActionIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// mcpToolEntry is one element of the MCP_TOOLS_JSON array: a remote MCP
// server descriptor using whichever of server_url/url/server.url the
// carrier's admin configured.
type mcpToolEntry struct {
	Type        string `json:"type"`
	ServerLabel string `json:"server_label"`
	ServerName  string `json:"server_name"`
	Name        string `json:"name"`
	ServerURL   string `json:"server_url"`
	URL         string `json:"url"`
	Server      struct {
		URL string `json:"url"`
	} `json:"server"`
}

// parseMCPToolsJSON decodes the carrier's MCP_TOOLS_JSON input variable (a
// JSON array of remote tool-server descriptors) into Host-ready server
// configs. Malformed or non-MCP entries are skipped rather than failing the
// whole session.
func parseMCPToolsJSON(raw string) []mcp.ServerConfig {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var entries []mcpToolEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}

	var servers []mcp.ServerConfig
	for i, e := range entries {
		if e.Type != "mcp" {
			continue
		}
		url := e.ServerURL
		if url == "" {
			url = e.URL
		}
		if url == "" {
			url = e.Server.URL
		}
		if url == "" {
			continue
		}
		name := e.ServerLabel
		if name == "" {
			name = e.ServerName
		}
		if name == "" {
			name = e.Name
		}
		if name == "" {
			name = fmt.Sprintf("mcp-%d", i)
		}
		servers = append(servers, mcp.ServerConfig{
			Name:      name,
			Transport: mcp.TransportStreamableHTTP,
			URL:       url,
		})
	}
	return servers
}

// negotiateMedia inspects an open message's offered media for a supported
// format, replying with a disconnect and returning false if none matches.
func (c *Controller) negotiateMedia(ctx context.Context, offered []audiohook.MediaDescriptor) (audiohook.MediaDescriptor, bool) {
	chosen, ok := audiohook.SelectMedia(offered)
	if ok {
		return chosen, true
	}

	c.logger.Warn("session: no supported media format offered", "offered", offered)
	_ = c.conn.SendDisconnect(ctx, audiohook.DisconnectParams{
		Reason: "error",
		Info:   "no supported audio format (PCMU/8000) offered",
	})
	return audiohook.MediaDescriptor{}, false
}
