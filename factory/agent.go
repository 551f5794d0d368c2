/*
Package factory provides JSON to Go agent profile conversion.

PURPOSE:
  Converts JSON agent profile definitions into ledger.AgentAccount
  values. This enables onboarding configuration without code changes -
  back-office staff can define agent tiers in JSON, and the factory
  creates the proper Go structs.

JSON SCHEMA:
  {
    "id": "agt-1042",
    "name": "Horizon Travel",
    "email": "desk@horizon.example",
    "credit_limit": 25000,
    "commission_rate": 12.5,
    "tier": "premium"
  }

  When credit_limit or commission_rate is omitted, the named tier
  supplies the default. Unknown tiers fall back to "standard".

USAGE:
  factory := NewAgentFactory()
  account, err := factory.ParseAgent(jsonString)

SEE ALSO:
  - ledger/types.go: AgentAccount definition
  - api/handlers.go: agent creation endpoint
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/voyago/agency-ledger/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// AgentJSON is the JSON representation of an agent profile.
type AgentJSON struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Email          string   `json:"email,omitempty"`
	CreditLimit    *float64 `json:"credit_limit,omitempty"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
	Tier           string   `json:"tier,omitempty"`
}

// Tier bundles the defaults applied when a profile omits explicit values.
type Tier struct {
	Name           string
	CreditLimit    ledger.Money
	CommissionRate decimal.Decimal
}

// The built-in tiers. Explicit profile values always win over these.
var tiers = map[string]Tier{
	"starter": {
		Name:           "starter",
		CreditLimit:    ledger.NewMoneyFromInt(5000),
		CommissionRate: decimal.NewFromInt(8),
	},
	"standard": {
		Name:           "standard",
		CreditLimit:    ledger.NewMoneyFromInt(15000),
		CommissionRate: decimal.NewFromInt(10),
	},
	"premium": {
		Name:           "premium",
		CreditLimit:    ledger.NewMoneyFromInt(50000),
		CommissionRate: decimal.NewFromInt(12),
	},
}

// =============================================================================
// AGENT FACTORY
// =============================================================================

// AgentFactory converts JSON agent profiles to AgentAccount values.
type AgentFactory struct{}

func NewAgentFactory() *AgentFactory {
	return &AgentFactory{}
}

// ParseAgent parses a JSON string into an AgentAccount.
func (f *AgentFactory) ParseAgent(jsonStr string) (*ledger.AgentAccount, error) {
	var aj AgentJSON
	if err := json.Unmarshal([]byte(jsonStr), &aj); err != nil {
		return nil, fmt.Errorf("failed to parse agent JSON: %w", err)
	}
	return f.FromJSON(aj)
}

// FromJSON converts AgentJSON to an AgentAccount, filling gaps from the
// profile's tier.
func (f *AgentFactory) FromJSON(aj AgentJSON) (*ledger.AgentAccount, error) {
	if aj.ID == "" {
		return nil, fmt.Errorf("agent profile requires an id")
	}
	if aj.Name == "" {
		return nil, fmt.Errorf("agent profile %s requires a name", aj.ID)
	}

	tier := lookupTier(aj.Tier)

	account := &ledger.AgentAccount{
		ID:             ledger.AgentID(aj.ID),
		Name:           aj.Name,
		Email:          aj.Email,
		CreditLimit:    tier.CreditLimit,
		CommissionRate: tier.CommissionRate,
	}

	if aj.CreditLimit != nil {
		if *aj.CreditLimit < 0 {
			return nil, fmt.Errorf("agent profile %s: credit_limit must not be negative", aj.ID)
		}
		account.CreditLimit = ledger.NewMoney(*aj.CreditLimit)
	}
	if aj.CommissionRate != nil {
		rate := decimal.NewFromFloat(*aj.CommissionRate)
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("agent profile %s: commission_rate must be a percentage 0-100", aj.ID)
		}
		account.CommissionRate = rate
	}

	return account, nil
}

// ToJSON converts an AgentAccount back into its JSON profile form.
func (f *AgentFactory) ToJSON(account ledger.AgentAccount) AgentJSON {
	limit, _ := account.CreditLimit.Value.Float64()
	rate, _ := account.CommissionRate.Float64()
	return AgentJSON{
		ID:             string(account.ID),
		Name:           account.Name,
		Email:          account.Email,
		CreditLimit:    &limit,
		CommissionRate: &rate,
	}
}

func lookupTier(name string) Tier {
	if t, ok := tiers[strings.ToLower(name)]; ok {
		return t
	}
	return tiers["standard"]
}

// =============================================================================
// PRESET PROFILES
// =============================================================================

// StandardAgentJSON builds a JSON profile for a standard-tier agent.
func StandardAgentJSON(id, name string) string {
	b, _ := json.Marshal(AgentJSON{ID: id, Name: name, Tier: "standard"})
	return string(b)
}

// PremiumAgentJSON builds a JSON profile for a premium-tier agent.
func PremiumAgentJSON(id, name string) string {
	b, _ := json.Marshal(AgentJSON{ID: id, Name: name, Tier: "premium"})
	return string(b)
}
