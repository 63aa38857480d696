package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadButtonsMissingFile(t *testing.T) {
	reg, err := LoadButtons(filepath.Join(t.TempDir(), "buttons.json"))
	require.NoError(t, err)
	assert.Equal(t, "v1", reg.Version)
	assert.Empty(t, reg.Buttons)
	assert.Nil(t, reg.Find("anything"))
}

func TestLoadButtonsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buttons.json")
	doc := `{
  "version": "v1",
  "buttons": [
    {
      "id": "deploy",
      "title": "Deploy service",
      "spell_id": "acme/deploy",
      "version": "1.0.0",
      "defaults": {"env": "staging"},
      "required_confirmations": {"risk": true},
      "allowed_roles": ["ops"],
      "allowed_tenants": ["t1"],
      "require_signature": true
    }
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := LoadButtons(path)
	require.NoError(t, err)
	b := reg.Find("deploy")
	require.NotNil(t, b)
	assert.Equal(t, "acme/deploy", b.SpellID)
	assert.Equal(t, "staging", b.Defaults["env"])
	assert.True(t, b.RequiredConfirmations.Risk)
	assert.True(t, b.RequireSignature)
}

func TestLoadButtonsRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buttons.json")
	doc := `{"version":"v1","buttons":[
		{"id":"a","spell_id":"x/y"},
		{"id":"a","spell_id":"x/z"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadButtons(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadButtonsRequiresIDAndSpell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buttons.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"v1","buttons":[{"id":"a"}]}`), 0o644))
	_, err := LoadButtons(path)
	assert.Error(t, err)
}

func TestButtonAllowLists(t *testing.T) {
	open := &Button{ID: "open", SpellID: "x/y"}
	assert.True(t, open.RoleAllowed(""))
	assert.True(t, open.RoleAllowed("anything"))
	assert.True(t, open.TenantAllowed("anyone"))

	restricted := &Button{ID: "r", SpellID: "x/y", AllowedRoles: []string{"ops"}, AllowedTenants: []string{"t1"}}
	assert.True(t, restricted.RoleAllowed("ops"))
	assert.False(t, restricted.RoleAllowed("viewer"))
	assert.False(t, restricted.RoleAllowed(""))
	assert.True(t, restricted.TenantAllowed("t1"))
	assert.False(t, restricted.TenantAllowed("t2"))
}
