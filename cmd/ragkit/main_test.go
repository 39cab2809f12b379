package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/ragkit/internal/config"
	"github.com/fyrsmithlabs/ragkit/internal/embeddings"
	"github.com/fyrsmithlabs/ragkit/internal/vectorstore"
	"github.com/fyrsmithlabs/ragkit/internal/vectorstore/vectorstoretest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// resetFlags restores every flag to its default between executions of the
// shared command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// testConfig is the config file passed to every run; see setupCLI.
var testConfig string

// setupCLI points the CLI at a temporary store and a bag-of-words embedder.
func setupCLI(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	storeDir := filepath.Join(dir, "store")

	cfgFile := filepath.Join(dir, "config.yaml")
	cfg := "vectorstore:\n  collection: advanced_docs\n  chromem:\n    path: " + storeDir + "\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(cfg), 0o600))

	orig := newEmbedder
	newEmbedder = func(context.Context, config.EmbeddingsConfig, *zap.Logger) (embeddings.Embedder, error) {
		return vectorstoretest.NewBagEmbedder(0), nil
	}
	t.Cleanup(func() {
		newEmbedder = orig
		resetFlags(rootCmd)
	})

	testConfig = cfgFile
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	full := append([]string{"--config", testConfig}, args...)

	var out bytes.Buffer
	rootCmd.SetArgs(full)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseKV(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr string
	}{
		{name: "empty", in: nil, want: map[string]string{}},
		{name: "pairs", in: []string{"topic=quantum", "category=science"}, want: map[string]string{"topic": "quantum", "category": "science"}},
		{name: "value with equals", in: []string{"expr=a=b"}, want: map[string]string{"expr": "a=b"}},
		{name: "empty value", in: []string{"k="}, want: map[string]string{"k": ""}},
		{name: "trimmed key", in: []string{" k =v"}, want: map[string]string{"k": "v"}},
		{name: "missing equals", in: []string{"topic"}, wantErr: "want key=value"},
		{name: "empty key", in: []string{"=v"}, wantErr: "empty key"},
		{name: "duplicate", in: []string{"k=1", "k=2"}, wantErr: "more than once"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKV(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMetadata(t *testing.T) {
	assert.Equal(t, "{}", formatMetadata(nil))
	assert.Equal(t, "{category=science, topic=quantum}", formatMetadata(map[string]string{"topic": "quantum", "category": "science"}))
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"add", "collections", "demo", "get", "prompt", "query", "update", "version"}
	var got []string
	for _, c := range rootCmd.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}

	for _, c := range rootCmd.Commands() {
		assert.NotEmpty(t, c.Short, c.Name())
	}
}

func TestVersionCmd(t *testing.T) {
	setupCLI(t)
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ragkit dev (commit none)\n", out)
}

func TestDemoCmd(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "demo", "basic")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Query: What should I do today?\nRetrieved Document: "), out)

	_, err = run(t, "demo", "basic")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionExists)

	_, err = run(t, "demo", "basic", "--reset")
	assert.NoError(t, err)

	out, err = run(t, "demo", "advanced")
	require.NoError(t, err)
	assert.Contains(t, out, "Filtered Query Results (topic 'quantum'):")
	assert.Contains(t, out, "After metadata update:")
}

func TestDocumentCommands(t *testing.T) {
	setupCLI(t)

	_, err := run(t, "query", "quantum")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	out, err := run(t, "add", "--builtin", "advanced")
	require.NoError(t, err)
	assert.Equal(t, "Added 5 documents to advanced_docs\n", out)

	out, err = run(t, "query", "What are the recent developments in quantum physics?", "-n", "2", "--where", "topic=quantum")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Query: What are the recent developments in quantum physics?", lines[0])
	assert.Contains(t, lines[1], "[doc4]")
	assert.Contains(t, lines[1], "{category=science, topic=quantum}")
	assert.Contains(t, lines[2], "[doc1]")

	out, err = run(t, "query", "climate", "--where", "topic=climate", "--json")
	require.NoError(t, err)
	var res vectorstore.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, [][]string{{"doc3"}}, res.IDs)
	assert.Equal(t, "environment", res.Metadatas[0][0]["category"])

	out, err = run(t, "update", "doc3", "--meta", "topic=climate", "--meta", "category=science")
	require.NoError(t, err)
	assert.Equal(t, "Updated doc3 {category=science, topic=climate}\n", out)

	out, err = run(t, "get", "doc3")
	require.NoError(t, err)
	assert.Equal(t, "doc3\tClimate change is an urgent global issue that requires immediate action.\t{category=science, topic=climate}\n", out)

	out, err = run(t, "get", "doc1", "doc3", "--json")
	require.NoError(t, err)
	var docs []vectorstore.Document
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "doc1", docs[0].ID)

	_, err = run(t, "update", "ghost", "--meta", "k=v")
	assert.ErrorIs(t, err, vectorstore.ErrDocumentNotFound)

	out, err = run(t, "prompt", "How urgent is climate change?", "-n", "1")
	require.NoError(t, err)
	assert.Equal(t, "Question: How urgent is climate change?\n\n"+
		"Context 1: Climate change is an urgent global issue that requires immediate action.\n\n"+
		"Answer:\n", out)

	_, err = run(t, "query", "x", "--where", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--where")
}

func TestAddCorpusFile(t *testing.T) {
	setupCLI(t)

	path := filepath.Join(t.TempDir(), "notes.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
collection = "notes"
[[documents]]
id = "n1"
text = "Buy milk."
`), 0o600))

	out, err := run(t, "add", "--corpus", path, "--collection", "my_notes")
	require.NoError(t, err)
	assert.Equal(t, "Added 1 documents to my_notes\n", out)

	out, err = run(t, "get", "n1", "--collection", "my_notes")
	require.NoError(t, err)
	assert.Equal(t, "n1\tBuy milk.\t{}\n", out)

	_, err = run(t, "add")
	assert.Error(t, err, "one of --corpus or --builtin is required")

	_, err = run(t, "add", "--corpus", path, "--builtin", "basic")
	assert.Error(t, err)
}

func TestCollectionsCmd(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "collections", "list")
	require.NoError(t, err)
	assert.Equal(t, "No collections.\n", out)

	_, err = run(t, "add", "--builtin", "basic")
	require.NoError(t, err)
	_, err = run(t, "add", "--builtin", "advanced")
	require.NoError(t, err)

	out, err = run(t, "collections", "list")
	require.NoError(t, err)
	assert.Equal(t, "advanced_docs\t5\nreal_docs\t3\n", out)

	out, err = run(t, "collections", "delete", "real_docs")
	require.NoError(t, err)
	assert.Equal(t, "Deleted collection real_docs\n", out)

	_, err = run(t, "collections", "delete", "real_docs")
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestMetricsFile(t *testing.T) {
	setupCLI(t)
	path := filepath.Join(t.TempDir(), "ragkit.prom")

	_, err := run(t, "add", "--builtin", "basic", "--metrics-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ragkit_vectorstore_operations_total{backend="chromem",op="add",result="success"}`)
}

func TestInvalidLogLevel(t *testing.T) {
	setupCLI(t)
	_, err := run(t, "--log-level", "loud", "collections", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

var buildEmbedder = newEmbedder

func TestNewEmbedder_ONNXBootstrap(t *testing.T) {
	errNoRuntime := errors.New("no runtime")

	tests := []struct {
		provider   string
		wantEnsure bool
	}{
		{provider: "", wantEnsure: true},
		{provider: "fastembed", wantEnsure: true},
		{provider: "bogus", wantEnsure: false},
	}

	for _, tt := range tests {
		t.Run("provider="+tt.provider, func(t *testing.T) {
			called := false
			orig := ensureONNXRuntime
			ensureONNXRuntime = func(context.Context) (string, error) {
				called = true
				return "", errNoRuntime
			}
			t.Cleanup(func() { ensureONNXRuntime = orig })

			_, err := buildEmbedder(context.Background(), config.EmbeddingsConfig{Provider: tt.provider}, zap.NewNop())
			require.Error(t, err)
			assert.Equal(t, tt.wantEnsure, called)
			if tt.wantEnsure {
				assert.ErrorIs(t, err, errNoRuntime)
			}
		})
	}
}
