package router

import (
	"encoding/json"
	"testing"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog()
	if err := RegisterDefaults(c); err != nil {
		t.Fatalf("RegisterDefaults() error = %v", err)
	}
	return c
}

func TestValidateParamsAcceptsValidShell(t *testing.T) {
	c := newTestCatalog(t)
	params := json.RawMessage(`{"command":"ls","args":["-la"]}`)

	coerced, err := c.ValidateParams("shell", params)
	if err != nil {
		t.Fatalf("ValidateParams() error = %v", err)
	}
	var decoded ShellParams
	if err := json.Unmarshal(coerced, &decoded); err != nil {
		t.Fatalf("unmarshal coerced: %v", err)
	}
	if decoded.Command != "ls" {
		t.Errorf("Command = %q, want ls", decoded.Command)
	}
}

func TestValidateParamsRejectsMissingRequiredField(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.ValidateParams("shell", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for missing required 'command' field")
	}
}

func TestValidateParamsUnknownAction(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.ValidateParams("nonexistent", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected ErrUnknownAction")
	}
}

func TestValidateParamsCoercesEmptyObjectToEmptyList(t *testing.T) {
	c := newTestCatalog(t)
	params := json.RawMessage(`{"task_id":"t1","prompt_fields":{"role":"helper"},"model_pool":["m1"],"capability_groups":{}}`)

	coerced, err := c.ValidateParams("spawn", params)
	if err != nil {
		t.Fatalf("ValidateParams() error = %v", err)
	}
	var decoded SpawnParams
	if err := json.Unmarshal(coerced, &decoded); err != nil {
		t.Fatalf("unmarshal coerced: %v", err)
	}
	if decoded.CapabilityGroups == nil || len(decoded.CapabilityGroups) != 0 {
		t.Errorf("CapabilityGroups = %+v, want coerced to empty list", decoded.CapabilityGroups)
	}
}

func TestGovernanceTables(t *testing.T) {
	c := newTestCatalog(t)

	if !c.IsUntrusted("shell") {
		t.Error("shell should be untrusted")
	}
	if c.IsUntrusted("orient") {
		t.Error("orient should be trusted")
	}
	if !c.IsSelfContained("orient") {
		t.Error("orient should be self-contained")
	}
	if c.IsSelfContained("shell") {
		t.Error("shell should not be self-contained")
	}
	if !c.WaitRequired("wait") {
		t.Error("wait action should require a non-false wait value")
	}
	if c.WaitRequired("orient") {
		t.Error("orient should not require wait")
	}
}
