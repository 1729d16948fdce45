package process_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"epc/config"
	"epc/container"
	"epc/process"
	"epc/state"
)

const testChapter = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<body epub:type="bodymatter" xmlns:epub="http://www.idpf.org/2007/ops">
<p class="used">In <abbr>A.D.</abbr> 1867 it began.</p>
</body>
</html>
`

const testTOC = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
<nav epub:type="toc"><ol><li><a href="text/chapter-1.xhtml">One</a></li></ol></nav>
</body>
</html>
`

const testCSS = `@namespace epub url(http://www.idpf.org/2007/ops);

.used {
	color: red;
}

.unused {
	color: blue;
}

abbr {
	font-variant: all-small-caps;
}
`

func testEnv(t *testing.T) context.Context {
	t.Helper()

	ctx := state.ContextWithEnv(context.Background())
	env := state.EnvFromContext(ctx)

	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatalf("unable to load default configuration: %v", err)
	}
	env.Cfg = cfg
	env.Log = zap.NewNop()
	return ctx
}

func writePublication(t *testing.T, name string) string {
	t.Helper()

	root := filepath.Join(t.TempDir(), name)
	files := map[string]string{
		"src/epub/content.opf":          `<package version="3.0"/>`,
		"src/epub/css/local.css":        testCSS,
		"src/epub/text/chapter-1.xhtml": testChapter,
		"src/epub/toc.xhtml":            testTOC,
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("unable to create directory for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("unable to write %s: %v", rel, err)
		}
	}
	return root
}

func docFlagCommand(name string, action cli.ActionFunc) *cli.Command {
	return &cli.Command{
		Name:   name,
		Action: action,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "force-cp"},
		},
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("unable to create pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	w.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unable to read captured output: %v", err)
	}
	return string(data)
}

func TestUnusedCommand(t *testing.T) {
	ctx := testEnv(t)
	root := writePublication(t, "frankenstein")

	var runErr error
	out := captureStdout(t, func() {
		runErr = docFlagCommand("unused", process.Unused).Run(ctx, []string{"unused", root})
	})
	if runErr != nil {
		t.Fatalf("unused failed: %v", runErr)
	}
	if out != ".unused\n" {
		t.Fatalf("expected .unused on stdout, got %q", out)
	}
}

func TestUnusedCommandNoSources(t *testing.T) {
	ctx := testEnv(t)
	err := docFlagCommand("unused", process.Unused).Run(ctx, []string{"unused"})
	if err == nil {
		t.Fatal("expected error without sources")
	}
}

func TestUnusedCommandIsolatesFailures(t *testing.T) {
	ctx := testEnv(t)
	good := writePublication(t, "frankenstein")
	missing := filepath.Join(t.TempDir(), "missing")

	var runErr error
	out := captureStdout(t, func() {
		runErr = docFlagCommand("unused", process.Unused).Run(ctx, []string{"unused", missing, good})
	})
	if runErr == nil {
		t.Fatal("expected summarizing error")
	}
	if !strings.Contains(runErr.Error(), "1 of 2 publications failed") {
		t.Fatalf("expected failure summary, got %v", runErr)
	}
	if !strings.Contains(out, ".unused") {
		t.Fatalf("expected the good publication to be analyzed, got %q", out)
	}
}

func TestCompatCommand(t *testing.T) {
	ctx := testEnv(t)
	root := writePublication(t, "frankenstein")

	if err := docFlagCommand("compat", process.Compat).Run(ctx, []string{"compat", root}); err != nil {
		t.Fatalf("compat failed: %v", err)
	}

	css, err := os.ReadFile(filepath.Join(root, "src", "epub", "css", "local.css"))
	if err != nil {
		t.Fatalf("unable to read stylesheet: %v", err)
	}
	if !strings.Contains(string(css), "span {") || strings.Contains(string(css), "abbr {") {
		t.Fatalf("expected abbr rule rewritten to span, got %q", css)
	}

	chapter, err := os.ReadFile(filepath.Join(root, "src", "epub", "text", "chapter-1.xhtml"))
	if err != nil {
		t.Fatalf("unable to read chapter: %v", err)
	}
	if strings.Contains(string(chapter), "<abbr>") || !strings.Contains(string(chapter), "<span>A.D.</span>") {
		t.Fatalf("expected abbr element renamed, got %q", chapter)
	}
}

func TestFormatCommand(t *testing.T) {
	ctx := testEnv(t)
	root := writePublication(t, "frankenstein")
	chapter := filepath.Join(root, "src", "epub", "text", "chapter-1.xhtml")

	if err := docFlagCommand("format", process.Format).Run(ctx, []string{"format", root}); err != nil {
		t.Fatalf("format failed: %v", err)
	}
	first, err := os.ReadFile(chapter)
	if err != nil {
		t.Fatalf("unable to read chapter: %v", err)
	}
	if !strings.Contains(string(first), "\t") {
		t.Fatalf("expected tab indentation, got %q", first)
	}
	if !strings.Contains(string(first), "A.D.") {
		t.Fatalf("expected content preserved, got %q", first)
	}

	if err := docFlagCommand("format", process.Format).Run(ctx, []string{"format", root}); err != nil {
		t.Fatalf("second format failed: %v", err)
	}
	second, err := os.ReadFile(chapter)
	if err != nil {
		t.Fatalf("unable to read chapter: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected formatting to be stable, got %q then %q", first, second)
	}
}

func packCommand() *cli.Command {
	return &cli.Command{
		Name:   "pack",
		Action: process.Pack,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "overwrite", Aliases: []string{"ow"}},
		},
	}
}

func TestPackCommand(t *testing.T) {
	ctx := testEnv(t)
	root := writePublication(t, "frankenstein")
	dstDir := t.TempDir()

	if err := packCommand().Run(ctx, []string{"pack", root, dstDir}); err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	out := filepath.Join(dstDir, "frankenstein.epub")
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected container at %s: %v", out, err)
	}
	if err := container.Verify(out, zap.NewNop()); err != nil {
		t.Fatalf("expected packed container to verify, got %v", err)
	}

	if err := packCommand().Run(ctx, []string{"pack", root, dstDir}); err == nil {
		t.Fatal("expected refusal to overwrite existing container")
	}
	if err := packCommand().Run(ctx, []string{"pack", "--overwrite", root, dstDir}); err != nil {
		t.Fatalf("pack with overwrite failed: %v", err)
	}
}

func TestPackCommandExplicitDestination(t *testing.T) {
	ctx := testEnv(t)
	root := writePublication(t, "dracula")
	out := filepath.Join(t.TempDir(), "renamed.epub")

	if err := packCommand().Run(ctx, []string{"pack", root, out}); err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected container at %s: %v", out, err)
	}
}
