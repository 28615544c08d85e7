//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h3xium/nx/internal/harness"
	"github.com/h3xium/nx/internal/process"
	"github.com/h3xium/nx/internal/workspace"
)

const npmScope = "@proj"

func compiledMarker(lib string) string {
	return "Done compiling TypeScript files for library " + lib
}

func TestPublishableNodeLibrary(t *testing.T) {
	cli := nxWorkspace(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	lib := workspace.Uniq("nodelib")

	_, err := cli.Run(ctx, "generate", "@nrwl/node:lib", lib, "--publishable")
	require.NoError(t, err)
	require.NoError(t, workspace.CheckFilesExist(cli.Dir, "libs/"+lib+"/package.json"))

	var tsconfig map[string]any
	require.NoError(t, workspace.ReadJSON(cli.Dir, "libs/"+lib+"/tsconfig.lib.json", &tsconfig))
	assert.Equal(t, map[string]any{
		"extends": "./tsconfig.json",
		"compilerOptions": map[string]any{
			"module":      "commonjs",
			"outDir":      "../../dist/out-tsc",
			"declaration": true,
			"rootDir":     "./src",
			"types":       []any{"node"},
		},
		"exclude": []any{"**/*.spec.ts"},
		"include": []any{"**/*.ts"},
	}, tsconfig)

	_, err = cli.RunAsync(ctx, "build", lib)
	require.NoError(t, err)
	require.NoError(t, workspace.CheckFilesExist(cli.Dir,
		"dist/libs/"+lib+"/index.js",
		"dist/libs/"+lib+"/index.d.ts",
		"dist/libs/"+lib+"/package.json",
	))

	var pkg map[string]any
	require.NoError(t, workspace.ReadJSON(cli.Dir, "dist/libs/"+lib+"/package.json", &pkg))
	assert.Equal(t, map[string]any{
		"name":    npmScope + "/" + lib,
		"version": "0.0.1",
		"main":    "index.js",
		"typings": "index.d.ts",
	}, pkg)
}

func TestNodeLibraryCopiesAssets(t *testing.T) {
	cli := nxWorkspace(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	nodelib := workspace.Uniq("nodelib")
	nglib := workspace.Uniq("nglib")

	_, err := cli.Run(ctx, "generate", "@nrwl/node:lib", nodelib, "--publishable")
	require.NoError(t, err)
	// The angular library brings nested directories into the copied assets.
	_, err = cli.Run(ctx, "generate", "@nrwl/angular:lib", nglib, "--publishable")
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, workspace.ReadJSON(cli.Dir, "workspace.json", &cfg))
	build := cfg["projects"].(map[string]any)[nodelib].(map[string]any)["architect"].(map[string]any)["build"].(map[string]any)
	opts := build["options"].(map[string]any)
	assets, _ := opts["assets"].([]any)
	opts["assets"] = append(assets, map[string]any{
		"input":  "./dist/libs/" + nglib,
		"glob":   "**/*",
		"output": ".",
	})
	require.NoError(t, workspace.WriteJSON(cli.Dir, "workspace.json", cfg))

	_, err = cli.Run(ctx, "build", nglib)
	require.NoError(t, err)
	_, err = cli.Run(ctx, "build", nodelib)
	require.NoError(t, err)
	require.NoError(t, workspace.CheckFilesExist(cli.Dir, "dist/libs/"+nodelib+"/esm2015/index.js"))
}

// libGraph is a parent library importing two children.
type libGraph struct {
	parent, child, child2 string
}

func newLibGraph(t *testing.T, ctx context.Context, cli workspace.CLI) libGraph {
	t.Helper()
	g := libGraph{
		parent: workspace.Uniq("parentlib"),
		child:  workspace.Uniq("childlib"),
		child2: workspace.Uniq("childlib2"),
	}
	for _, lib := range []string{g.parent, g.child, g.child2} {
		_, err := cli.Run(ctx, "generate", "@nrwl/node:lib", lib, "--publishable=true")
		require.NoError(t, err)
	}

	var src strings.Builder
	calls := make([]string, 0, 2)
	for _, c := range []string{g.child, g.child2} {
		fmt.Fprintf(&src, "import { %s } from '%s/%s';\n", c, npmScope, c)
		calls = append(calls, c+"()")
	}
	fmt.Fprintf(&src, "\nexport function %s(): string {\n  return '%s' + ' ' + %s;\n}\n",
		g.parent, g.parent, strings.Join(calls, " + "))
	require.NoError(t, workspace.UpdateFile(cli.Dir, "libs/"+g.parent+"/src/lib/"+g.parent+".ts", src.String()))
	return g
}

func TestLibraryBuildFailsWithUnbuiltDependencies(t *testing.T) {
	cli := nxWorkspace(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	g := newLibGraph(t, ctx, cli)

	_, err := cli.Run(ctx, "build", g.parent)
	var ce *workspace.CommandError
	require.True(t, errors.As(err, &ce), "expected a failing build, got %v", err)
	assert.Contains(t, ce.Stderr,
		"Some of the project "+g.parent+"'s dependencies have not been built yet. Please build these libraries before:")
	assert.Contains(t, ce.Stderr, g.child)
}

func TestLibraryBuildWithoutDependencies(t *testing.T) {
	cli := nxWorkspace(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	g := newLibGraph(t, ctx, cli)

	// The build pipeline's completion line is a readiness marker like any other.
	rep, err := newHarness().Run(ctx, harness.Scenario{
		Name: g.child,
		Process: process.Spec{
			Command:   cli.Bin,
			Args:      append(append([]string{}, cli.Args...), "build", g.child),
			WorkDir:   cli.Dir,
			StopGrace: 30 * time.Second,
		},
		Marker:       compiledMarker(g.child),
		ReadyTimeout: 2 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, harness.StateTerminated, rep.State)
}

func TestLibraryBuildAfterDependencies(t *testing.T) {
	cli := nxWorkspace(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	g := newLibGraph(t, ctx, cli)

	for _, lib := range []string{g.child, g.child2, g.parent} {
		out, err := cli.Run(ctx, "build", lib)
		require.NoError(t, err)
		assert.Contains(t, out, compiledMarker(lib))
	}

	var pkg struct {
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, workspace.ReadJSON(cli.Dir, "dist/libs/"+g.parent+"/package.json", &pkg))
	for _, c := range []string{g.child, g.child2} {
		assert.Equal(t, "0.0.1", pkg.Dependencies[npmScope+"/"+c], c)
	}
}
