//go:build integration

package integration_test

import (
	"context"
	"testing"

	"github.com/ocmod-labs/ocmodctl/internal/installer"
	"github.com/ocmod-labs/ocmodctl/internal/logging"
)

const headerPath = "catalog/controller/common/header.php"

func headerPatch(code, search, add string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<modification>
  <name>` + code + `</name>
  <code>` + code + `</code>
  <version>1.0.0</version>
  <file path="` + headerPath + `">
    <operation>
      <search position="after"><![CDATA[` + search + `]]></search>
      <add><![CDATA[` + add + `]]></add>
    </operation>
  </file>
</modification>`
}

func TestFullFlowInstallPatchUninstall(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	writeFile(t, env.hostPath(headerPath), "<?php\nclass Header {\n}\n")

	pkg := buildPackage(t, "banner.ocmod.zip", map[string]string{
		"upload/catalog/controller/extension/module/banner.php": "<?php // banner",
		"upload/admin/language/en-gb/extension/module/banner.php": "<?php $_['heading_title'] = 'Banner';",
		"install.xml": headerPatch("banner", "class Header {", "\n  // banner"),
	})

	res, err := env.installer(logging.NewExecLog(true)).Install(ctx, installer.Request{ArchivePath: pkg})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(res.InstalledFiles) != 2 {
		t.Errorf("installed files = %v", res.InstalledFiles)
	}

	assertFileExists(t, env.hostPath("catalog/controller/extension/module/banner.php"))
	assertFileContent(t, env.hostPath(headerPath), "<?php\nclass Header {\n}\n")
	assertFileContains(t, env.overlayPath(headerPath), "class Header {\n  // banner")

	mod, err := env.Store.ModificationByCode(ctx, "banner")
	if err != nil {
		t.Fatalf("ModificationByCode: %v", err)
	}
	if mod.InstallID != res.Record.ID {
		t.Errorf("modification install id = %d, want %d", mod.InstallID, res.Record.ID)
	}

	if _, err := env.installer(logging.NewExecLog(false)).Uninstall(ctx, res.Record.ID); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	assertFileNotExists(t, env.hostPath("catalog/controller/extension/module/banner.php"))
	assertFileNotExists(t, env.overlayPath(headerPath))
	assertFileExists(t, env.hostPath(headerPath))
}

func TestFullFlowRefreshStacksModifications(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	writeFile(t, env.hostPath(headerPath), "start|end")

	first := buildPackage(t, "first.zip", map[string]string{"install.xml": headerPatch("first", "start", "+first")})
	second := buildPackage(t, "second.zip", map[string]string{"install.xml": headerPatch("second", "start", "+second")})

	for _, pkg := range []string{first, second} {
		if _, err := env.installer(logging.NewExecLog(false)).Install(ctx, installer.Request{ArchivePath: pkg}); err != nil {
			t.Fatalf("Install %s: %v", pkg, err)
		}
	}

	// Installation scope seeds from the original file, so only the last
	// package's change is in the overlay until a full refresh.
	assertFileContent(t, env.overlayPath(headerPath), "start+second|end")

	report, err := env.installer(logging.NewExecLog(false)).Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if report.Documents != 2 {
		t.Errorf("documents = %d, want 2", report.Documents)
	}
	assertFileContent(t, env.overlayPath(headerPath), "start+second+first|end")
}

func TestFullFlowReinstallOverwrites(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	target := "system/library/cart/helper.php"

	v1 := buildPackage(t, "helper.zip", map[string]string{"upload/" + target: "v1"})
	v2 := buildPackage(t, "helper.zip", map[string]string{"upload/" + target: "v2"})

	if _, err := env.installer(logging.NewExecLog(false)).Install(ctx, installer.Request{ArchivePath: v1}); err != nil {
		t.Fatalf("Install v1: %v", err)
	}
	if _, err := env.installer(logging.NewExecLog(false)).Install(ctx, installer.Request{ArchivePath: v2}); err == nil {
		t.Fatal("reinstall without overwrite should conflict")
	}
	assertFileContent(t, env.hostPath(target), "v1")

	if _, err := env.installer(logging.NewExecLog(false)).Install(ctx, installer.Request{ArchivePath: v2, Overwrite: true}); err != nil {
		t.Fatalf("Install v2 with overwrite: %v", err)
	}
	assertFileContent(t, env.hostPath(target), "v2")

	installs, err := env.Store.ListInstalls(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(installs) != 2 {
		t.Errorf("installs = %d, want 2 (the conflicting attempt is rolled back)", len(installs))
	}
}
