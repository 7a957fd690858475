package prompt_test

import (
	"strings"
	"testing"

	"github.com/coraltel/audiohookbridge/internal/prompt"
)

func TestCompose_MasterBlockByDefault(t *testing.T) {
	t.Parallel()
	got := prompt.Compose(prompt.Config{Admin: "Help with billing questions."})

	if !strings.Contains(got, "[CORE DIRECTIVES]") {
		t.Error("expected master block in composed instructions")
	}
	if !strings.Contains(got, "Help with billing questions.") {
		t.Error("expected admin prompt to be present")
	}
	if !strings.Contains(got, "[TOOL USAGE - CALL MANAGEMENT]") {
		t.Error("expected call-control guidance to be present")
	}
}

func TestCompose_LanguageOverridesMasterBlock(t *testing.T) {
	t.Parallel()
	got := prompt.Compose(prompt.Config{Admin: "Assist the caller.", Language: "Spanish"})

	if strings.Contains(got, "[CORE DIRECTIVES]") {
		t.Error("expected master block to be replaced when Language is set")
	}
	if !strings.Contains(got, "You must ALWAYS respond in Spanish.") {
		t.Error("expected language directive to be present")
	}
}

func TestCompose_SubstitutesAgentAndCompanyName(t *testing.T) {
	t.Parallel()
	got := prompt.Compose(prompt.Config{
		Admin:       "I am [AGENT_NAME] from [COMPANY_NAME]. Welcome to Our Company.",
		AgentName:   "Robin",
		CompanyName: "Acme Corp",
	})

	if !strings.Contains(got, "I am Robin from Acme Corp. Welcome to Acme Corp.") {
		t.Errorf("substitution did not apply as expected: %s", got)
	}
}

func TestCompose_CustomerDataBlock(t *testing.T) {
	t.Parallel()
	got := prompt.Compose(prompt.Config{
		Admin:        "Help the caller.",
		CustomerData: "account_id: 12345; tier: gold",
	})

	if !strings.Contains(got, "[CUSTOMER DATA - USE WHEN APPROPRIATE]") {
		t.Error("expected customer data block header")
	}
	if !strings.Contains(got, "account_id: 12345") || !strings.Contains(got, "tier: gold") {
		t.Errorf("expected both customer data pairs present, got %s", got)
	}
}

func TestCompose_MalformedCustomerDataSkipped(t *testing.T) {
	t.Parallel()
	got := prompt.Compose(prompt.Config{
		Admin:        "Help the caller.",
		CustomerData: "no-colon-here; ;",
	})

	if strings.Contains(got, "[CUSTOMER DATA") {
		t.Error("expected no customer data block when no pair has a colon")
	}
}

func TestCompose_ExternalToolInstructionsAppended(t *testing.T) {
	t.Parallel()
	got := prompt.Compose(prompt.Config{
		Admin:                    "Help the caller.",
		ExternalToolInstructions: "Use lookup_order before discussing shipping.",
	})

	if !strings.Contains(got, "Use lookup_order before discussing shipping.") {
		t.Error("expected external tool instructions to be appended")
	}
}

func TestCompose_Deterministic(t *testing.T) {
	t.Parallel()
	cfg := prompt.Config{Admin: "Help with billing.", AgentName: "Robin", Language: "French"}

	first := prompt.Compose(cfg)
	second := prompt.Compose(cfg)
	if first != second {
		t.Error("expected Compose to be deterministic for identical input")
	}
}
