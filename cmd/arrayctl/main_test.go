package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLedgerConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "array.toml")
	contents := fmt.Sprintf("DataDir = %q\nAdminKeystorePath = %q\n", filepath.Join(dir, "data"), filepath.Join(dir, "admin.keystore"))
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, dir
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(args, &out); err != nil {
		t.Fatalf("arrayctl %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func fieldAfter(t *testing.T, output, prefix string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, prefix) {
			fields := strings.Fields(strings.TrimPrefix(line, prefix))
			if len(fields) > 0 {
				return fields[0]
			}
		}
	}
	t.Fatalf("no %q line in output:\n%s", prefix, output)
	return ""
}

func TestCommandLifecycle(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse battery staple")
	cfgPath, dir := writeLedgerConfig(t)
	aliceKeystore := filepath.Join(dir, "alice.keystore")

	out := mustRun(t, "keygen", "--config", cfgPath)
	admin := fieldAfter(t, out, "admin ")
	out = mustRun(t, "new-account", "--out", aliceKeystore)
	alice := fieldAfter(t, out, "account ")

	out = mustRun(t, "init", "--config", cfgPath)
	if !strings.Contains(out, "admin="+admin) {
		t.Fatalf("unexpected init output: %s", out)
	}
	mustRun(t, "register-vault", "--config", cfgPath, "--mint", "usdc")
	out = mustRun(t, "credit", "--config", cfgPath, "--owner", alice, "--mint", "USDC", "--amount", "1000")
	if !strings.Contains(out, "balance 1000") {
		t.Fatalf("unexpected credit output: %s", out)
	}

	mustRun(t, "create-user", "--config", cfgPath, "--keystore", aliceKeystore)
	out = mustRun(t, "deposit", "--config", cfgPath, "--keystore", aliceKeystore, "--vault", "0", "--amount", "400")
	if !strings.Contains(out, "position=400") || !strings.Contains(out, "via direct") {
		t.Fatalf("unexpected deposit output: %s", out)
	}

	out = mustRun(t, "show-user", "--config", cfgPath, "--owner", alice)
	if !strings.Contains(out, "vault=0 route=direct deposited=400") {
		t.Fatalf("unexpected show-user output: %s", out)
	}
	out = mustRun(t, "audit", "--config", cfgPath, "--vault", "0")
	if !strings.Contains(out, "balanced") {
		t.Fatalf("unexpected audit output: %s", out)
	}

	out = mustRun(t, "withdraw", "--config", cfgPath, "--keystore", aliceKeystore, "--vault", "0", "--amount", "400")
	if !strings.Contains(out, "slot released") {
		t.Fatalf("expected drained slot to be released: %s", out)
	}
	out = mustRun(t, "balance", "--config", cfgPath, "--owner", alice, "--mint", "usdc")
	if strings.TrimSpace(out) != "1000" {
		t.Fatalf("expected full balance back, got %q", out)
	}
	out = mustRun(t, "vaults", "--config", cfgPath)
	if !strings.Contains(out, "mint=USDC balance=0") {
		t.Fatalf("unexpected vaults output: %s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	t.Setenv(defaultPassEnv, "correct horse battery staple")
	cfgPath, dir := writeLedgerConfig(t)
	mustRun(t, "keygen", "--config", cfgPath)
	mustRun(t, "init", "--config", cfgPath)

	var out bytes.Buffer
	if err := run([]string{"bogus"}, &out); err == nil {
		t.Fatalf("expected unknown command to fail")
	}
	if !strings.Contains(out.String(), "register-vault") {
		t.Fatalf("expected usage listing, got %s", out.String())
	}

	bob := filepath.Join(dir, "bob.keystore")
	mustRun(t, "new-account", "--out", bob)
	if err := run([]string{"register-vault", "--config", cfgPath, "--keystore", bob, "--mint", "SOL"}, &out); err == nil {
		t.Fatalf("expected non-admin vault registration to fail")
	}
	if err := run([]string{"deposit", "--config", cfgPath, "--vault", "0", "--amount", "x"}, &out); err == nil {
		t.Fatalf("expected malformed amount to fail")
	}
	if err := run([]string{"show-vault", "--config", cfgPath, "--vault", "70000"}, &out); err == nil {
		t.Fatalf("expected out-of-range vault index to fail")
	}
}
