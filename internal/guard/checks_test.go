package guard

import (
	"strings"
	"testing"

	"github.com/bizpilot/insight-gateway/internal/tenant"
)

func testTenant() *tenant.Context {
	return &tenant.Context{CallerID: "key-1", TenantID: "t-wolfgang"}
}

func TestNormalize_StripsFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```sql\nSELECT 1\n```", "SELECT 1"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"SELECT 1;", "SELECT 1"},
		{"  SELECT 1  ", "SELECT 1"},
		{"```sql\nSELECT 1;\n```", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate_AcceptsReadOnly(t *testing.T) {
	tc := testTenant()
	stmts := []string{
		"SELECT income FROM daily_performance WHERE tenant_id = 't-wolfgang'",
		"select day, income from daily_performance where tenant_id = 't-wolfgang' order by day",
		"WITH top AS (SELECT category, SUM(subtotal) s FROM invoices WHERE tenant_id = 't-wolfgang' GROUP BY category) SELECT * FROM top",
	}
	for _, stmt := range stmts {
		v := Validate(stmt, tc)
		if !v.Accepted {
			t.Errorf("expected acceptance for %q, rejected by %s: %s", stmt, v.Check, v.Reason)
		}
	}
}

func TestValidate_RejectsNonSelectPrefix(t *testing.T) {
	tc := testTenant()
	// Leading identifiers that merely start with a keyword do not count
	// as a read-only clause.
	stmts := []string{
		"UPDATE daily_performance SET income = 0 WHERE tenant_id = 't-wolfgang'",
		"selection * from daily_performance where tenant_id = 't-wolfgang'",
		"withdrawal FROM accounts WHERE tenant_id = 't-wolfgang'",
	}
	for _, stmt := range stmts {
		v := Validate(stmt, tc)
		if v.Accepted {
			t.Errorf("expected rejection for %q", stmt)
			continue
		}
		if v.Check != "read_only_prefix" {
			t.Errorf("expected check read_only_prefix for %q, got %s", stmt, v.Check)
		}
	}
}

func TestValidate_RejectsDenylistedKeyword(t *testing.T) {
	tc := testTenant()
	stmts := []string{
		"SELECT 1 WHERE tenant_id = 't-wolfgang' UNION SELECT key_hash FROM api_keys",
		"SELECT * FROM invoices WHERE tenant_id = 't-wolfgang'; DROP TABLE invoices",
		"SELECT 1 FROM t WHERE tenant_id = 't-wolfgang'; truncate invoices",
		"select merge from x where tenant_id = 't-wolfgang'",
		"SeLeCt 1 WHERE tenant_id = 't-wolfgang' uNiOn SeLeCt 2",
	}
	for _, stmt := range stmts {
		v := Validate(stmt, tc)
		if v.Accepted {
			t.Errorf("expected rejection for %q", stmt)
			continue
		}
		if v.Check != "denylist" {
			t.Errorf("expected check denylist for %q, got %s", stmt, v.Check)
		}
	}
}

func TestValidate_DenylistWholeWordOnly(t *testing.T) {
	tc := testTenant()
	// Identifiers containing keyword substrings must not trip the scan.
	stmts := []string{
		"SELECT selection, updated_total FROM reports WHERE tenant_id = 't-wolfgang'",
		"SELECT dropped_at, created_by_name FROM audit_view WHERE tenant_id = 't-wolfgang'",
	}
	for _, stmt := range stmts {
		v := Validate(stmt, tc)
		if !v.Accepted {
			t.Errorf("expected acceptance for %q, rejected by %s: %s", stmt, v.Check, v.Reason)
		}
	}
}

func TestValidate_RejectsComments(t *testing.T) {
	tc := testTenant()
	stmts := []string{
		"SELECT 1 FROM t WHERE tenant_id = 't-wolfgang' -- hidden",
		"SELECT 1 /* hidden */ FROM t WHERE tenant_id = 't-wolfgang'",
	}
	for _, stmt := range stmts {
		v := Validate(stmt, tc)
		if v.Accepted {
			t.Errorf("expected rejection for %q", stmt)
			continue
		}
		if v.Check != "no_comments" {
			t.Errorf("expected check no_comments for %q, got %s", stmt, v.Check)
		}
	}
}

func TestValidate_RequiresTenantLiteral(t *testing.T) {
	tc := testTenant()
	v := Validate("SELECT income FROM daily_performance", tc)
	if v.Accepted {
		t.Fatal("expected rejection for statement missing tenant reference")
	}
	if v.Check != "tenant_literal" {
		t.Errorf("expected check tenant_literal, got %s", v.Check)
	}
}

func TestValidate_AdminSkipsTenantLiteral(t *testing.T) {
	tc := &tenant.Context{CallerID: "key-admin", CrossTenantAdmin: true}
	v := Validate("SELECT tenant_id, SUM(income) FROM daily_performance GROUP BY tenant_id", tc)
	if !v.Accepted {
		t.Errorf("expected acceptance for admin, rejected by %s: %s", v.Check, v.Reason)
	}
}

func TestEnsureLimit_Appends(t *testing.T) {
	got := EnsureLimit("SELECT day, income FROM daily_performance WHERE tenant_id = 't-1'", 200)
	if !strings.HasSuffix(got, "LIMIT 200") {
		t.Errorf("expected LIMIT to be appended, got %q", got)
	}
}

func TestEnsureLimit_KeepsExisting(t *testing.T) {
	stmt := "SELECT day FROM daily_performance WHERE tenant_id = 't-1' LIMIT 10"
	if got := EnsureLimit(stmt, 200); got != stmt {
		t.Errorf("expected statement unchanged, got %q", got)
	}
}
