package api

import (
	"encoding/json"
	"fmt"
	"os"
)

// Confirmations names the acknowledgements a button demands at submission.
type Confirmations struct {
	Risk    bool `json:"risk,omitempty"`
	Billing bool `json:"billing,omitempty"`
}

// Button maps a stable button_id onto a spell and its submission rules.
// The API accepts button ids only; spell ids never appear in requests.
type Button struct {
	ID                    string         `json:"id"`
	Title                 string         `json:"title,omitempty"`
	SpellID               string         `json:"spell_id"`
	Version               string         `json:"version,omitempty"`
	Defaults              map[string]any `json:"defaults,omitempty"`
	RequiredConfirmations Confirmations  `json:"required_confirmations,omitempty"`
	AllowedRoles          []string       `json:"allowed_roles,omitempty"`
	AllowedTenants        []string       `json:"allowed_tenants,omitempty"`
	RequireSignature      bool           `json:"require_signature,omitempty"`
}

// RoleAllowed checks the actor role against the button's allow list. An
// empty list allows any role.
func (b *Button) RoleAllowed(role string) bool {
	if len(b.AllowedRoles) == 0 {
		return true
	}
	for _, r := range b.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// TenantAllowed checks the tenant against the button's allow list. An
// unset list allows every tenant.
func (b *Button) TenantAllowed(tenant string) bool {
	if len(b.AllowedTenants) == 0 {
		return true
	}
	for _, t := range b.AllowedTenants {
		if t == tenant {
			return true
		}
	}
	return false
}

// ButtonRegistry is the buttons.json document, loaded once at server
// start and treated as immutable.
type ButtonRegistry struct {
	Version string   `json:"version"`
	Buttons []Button `json:"buttons"`
}

// LoadButtons reads the registry; a missing file yields an empty one.
func LoadButtons(path string) (*ButtonRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ButtonRegistry{Version: "v1"}, nil
		}
		return nil, fmt.Errorf("buttons: read: %w", err)
	}
	var reg ButtonRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("buttons: parse: %w", err)
	}
	seen := make(map[string]bool, len(reg.Buttons))
	for _, b := range reg.Buttons {
		if b.ID == "" || b.SpellID == "" {
			return nil, fmt.Errorf("buttons: entries require id and spell_id")
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("buttons: duplicate button %q", b.ID)
		}
		seen[b.ID] = true
	}
	return &reg, nil
}

// Find returns the button with the given id, or nil.
func (r *ButtonRegistry) Find(id string) *Button {
	for i := range r.Buttons {
		if r.Buttons[i].ID == id {
			return &r.Buttons[i]
		}
	}
	return nil
}
