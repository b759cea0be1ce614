package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/cellwarden/internal/catalog"
	"github.com/danmuck/cellwarden/internal/testutil/testlog"
	"github.com/danmuck/cellwarden/internal/wardend"
)

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestValidateAcceptsExample(t *testing.T) {
	testlog.Start(t)
	if err := Validate(filepath.Join("..", "..", "cmd", "wardend", "ex.config.toml")); err != nil {
		t.Fatalf("validate example: %v", err)
	}
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	testlog.Start(t)
	path := write(t, `
listen_adr = "127.0.0.1:8080"
`)
	err := Validate(path)
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Fatalf("error should name the key: %v", err)
	}
}

func TestValidateRejectsBadEnums(t *testing.T) {
	testlog.Start(t)
	cases := []string{
		`store = "etcd"`,
		`executor = "telnet"`,
		"[tracing]\nexporter = \"jaeger\"",
		"[[cells]]\nname = \"c1\"\nhost = \"hostA\"",
		"[[cells]]\nname = \"c1\"\nhost = \"a\"\nprefix = \"10.0.1\"\n[[cells]]\nname = \"c1\"\nhost = \"b\"\nprefix = \"10.0.2\"",
	}
	for _, content := range cases {
		if err := Validate(write(t, content)); err == nil {
			t.Fatalf("expected error for %q", content)
		}
	}
}

func TestTemplateInlinesCatalog(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	dir := filepath.Join(root, catalog.SupportedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "c1"), []byte("hostA 10.0.1\n"), 0o644); err != nil {
		t.Fatalf("write cell: %v", err)
	}

	data, err := Template(root)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out.toml")
	if err := WriteTemplate(path, data, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, data, false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := Validate(path); err != nil {
		t.Fatalf("rendered template does not validate: %v\n%s", err, data)
	}
	text := string(data)
	for _, want := range []string{"name = 'c1'", "host = 'hostA'", "prefix = '10.0.1'", "sweep_interval = '30s'"} {
		if !strings.Contains(text, want) {
			t.Fatalf("template missing %q:\n%s", want, text)
		}
	}
}

func TestFromServiceRoundTripsDefaults(t *testing.T) {
	testlog.Start(t)
	doc := FromService(wardend.DefaultServiceConfig())
	if err := ValidateFile(doc); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if doc.Store != "dir" || doc.Executor != "command" || doc.ExecTimeout != "10s" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}
