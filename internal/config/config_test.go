package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/a11ypanel/channel"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Transfer.BlobThreshold != channel.DefaultBlobThreshold {
		t.Errorf("threshold = %d", cfg.Transfer.BlobThreshold)
	}
	if len(cfg.Transfer.BlobTypes) != 1 || cfg.Transfer.BlobTypes[0] != channel.TypeScanComplete {
		t.Errorf("blob types = %v", cfg.Transfer.BlobTypes)
	}
	if cfg.Catalog.DefaultArchive != "latest" || cfg.Catalog.DefaultPolicy != "IBM_Accessibility" {
		t.Errorf("catalog defaults = %+v", cfg.Catalog)
	}
	if len(cfg.Catalog.Archives) != 1 || cfg.Catalog.Archives[0].Policy("IBM_Accessibility") == nil {
		t.Errorf("default catalog = %+v", cfg.Catalog.Archives)
	}
	if cfg.Scan.RetryDelay != 100*time.Millisecond {
		t.Errorf("retry delay = %v", cfg.Scan.RetryDelay)
	}
	if strings.Join(cfg.Surfaces, ",") != "main,sub" {
		t.Errorf("surfaces = %v", cfg.Surfaces)
	}
	if cfg.Blob.Store != "memory" || cfg.Engine.Kind != "script" {
		t.Errorf("blob=%s engine=%s", cfg.Blob.Store, cfg.Engine.Kind)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a11ypanel.yaml")
	data := `
transfer:
  large_inline: true
  blob_threshold: 1024
  blob_ttl: 30s
blob:
  store: sqlite
  db_path: /tmp/blobs.db
catalog:
  default_archive: "2024.01"
  archives:
    - id: "2024.01"
      name: January 2024
      policies:
        - id: WCAG_2_1
          name: WCAG 2.1
engine:
  kind: remote
  url: http://engine.local
  timeout: 5s
surfaces: [sub]
sinks:
  - type: webhook
    url: http://hooks.local/views
scan:
  retry_delay: 250ms
  focused: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	p := cfg.Policy()
	if !p.LargeInline || p.Threshold != 1024 || p.Types[0] != channel.TypeScanComplete {
		t.Errorf("policy = %+v", p)
	}
	if len(p.Strip) != 1 || p.Strip[0] != "report" {
		t.Errorf("strip = %v", p.Strip)
	}
	if cfg.Transfer.BlobTTL != 30*time.Second {
		t.Errorf("blob ttl = %v", cfg.Transfer.BlobTTL)
	}
	if cfg.Catalog.Archives[0].Policies[0].ID != "WCAG_2_1" || cfg.Catalog.DefaultArchive != "2024.01" {
		t.Errorf("catalog = %+v", cfg.Catalog)
	}
	if cfg.Engine.Timeout != 5*time.Second || cfg.Engine.Retries != 3 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Sinks[0].Retries != 3 {
		t.Errorf("sink retries = %d", cfg.Sinks[0].Retries)
	}
	if cfg.Scan.RetryDelay != 250*time.Millisecond || !cfg.Scan.Focused {
		t.Errorf("scan = %+v", cfg.Scan)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"blob store":     "blob: {store: s3}",
		"sqlite no path": "blob: {store: sqlite}",
		"engine kind":    "engine: {kind: wasm}",
		"remote no url":  "engine: {kind: remote}",
		"surface":        "surfaces: [popup]",
		"sink type":      "sinks: [{type: nats}]",
		"webhook no url": "sinks: [{type: webhook}]",
		"yaml":           "surfaces: [",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Fatal("expected error")
	}
}
