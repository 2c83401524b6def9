package hclgrid_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/hclgrid"
	"github.com/vk/querygrid/internal/mapping"
	"github.com/vk/querygrid/internal/testutil"
)

const enrichmentHCL = `
composition "daily_enrichment" {
  name = "Daily account enrichment"

  template "accounts" {
    sql = "SELECT account_id FROM accounts WHERE region = {{region}}"

    parameter "region" {
      type     = "string"
      required = true
      default  = "eu-west-1"
    }
  }

  template "events" {
    sql = "SELECT event_id FROM events WHERE account_id IN {{ids}} AND batch = {{batch}}"

    parameter "ids" {
      type     = "list(string)"
      required = true
    }

    parameter "batch" {
      type    = "number"
      default = 1
    }
  }

  node "fetch_accounts" {
    template = "accounts"

    settings {
      output_location = "s3://results/accounts"
      deadline        = "15m"
    }
  }

  node "fetch_events" {
    template = "events"
  }

  connection {
    from = "fetch_accounts"
    to   = "fetch_events"

    map "ids" {
      kind         = "flatten"
      source_field = "account_id"
      distinct     = true
    }
  }
}
`

func writeDefinition(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullComposition_TranslatesEveryBlock(t *testing.T) {
	t.Parallel()

	path := writeDefinition(t, "enrichment.hcl", enrichmentHCL)
	loader := hclgrid.NewLoader(mapping.NewRegistry())

	graphs, err := loader.Load(testutil.Context(t), path)
	require.NoError(t, err)
	require.Len(t, graphs, 1)

	g := graphs[0]
	assert.Equal(t, "daily_enrichment", g.ID)
	assert.Equal(t, "Daily account enrichment", g.Name)
	require.Len(t, g.Nodes, 2)

	accounts := g.Nodes["fetch_accounts"]
	require.NotNil(t, accounts)
	assert.Equal(t, "s3://results/accounts", accounts.Settings.OutputLocation)
	assert.Equal(t, 15*time.Minute, accounts.Settings.Deadline)

	region, ok := accounts.Template.Parameter("region")
	require.True(t, ok)
	assert.Equal(t, composition.TypeString, region.Type)
	assert.True(t, region.Required)
	assert.Equal(t, "eu-west-1", region.Default)

	events := g.Nodes["fetch_events"]
	require.NotNil(t, events)
	batch, ok := events.Template.Parameter("batch")
	require.True(t, ok)
	assert.Equal(t, composition.TypeNumber, batch.Type)
	assert.False(t, batch.Required)
	assert.Equal(t, 1.0, batch.Default)

	require.Len(t, g.Edges, 1)
	edge := g.Edges[0]
	assert.Equal(t, "fetch_accounts", edge.From)
	assert.Equal(t, "fetch_events", edge.To)
	require.Len(t, edge.Mappings, 1)
	m := edge.Mappings[0]
	assert.Equal(t, "ids", m.TargetParam)
	flatten, ok := m.Spec.(composition.Flatten)
	require.True(t, ok)
	assert.Equal(t, "account_id", flatten.SourceField)
	assert.True(t, flatten.Distinct)
}

func TestLoad_Directory_FindsAllDefinitions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(enrichmentHCL), 0o644))
	second := `
composition "second" {
  template "t" {
    sql = "SELECT 1"
  }
  node "only" {
    template = "t"
  }
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(second), 0o644))

	loader := hclgrid.NewLoader(mapping.NewRegistry())
	graphs, err := loader.Load(testutil.Context(t), dir)
	require.NoError(t, err)
	assert.Len(t, graphs, 2)
}

func TestLoad_UnknownMappingKind_IsRejected(t *testing.T) {
	t.Parallel()

	bad := `
composition "bad" {
  template "t" {
    sql = "SELECT {{v}}"
    parameter "v" {
      type = "string"
    }
  }
  node "a" { template = "t" }
  node "b" { template = "t" }
  connection {
    from = "a"
    to   = "b"
    map "v" {
      kind         = "zipper"
      source_field = "v"
    }
  }
}
`
	loader := hclgrid.NewLoader(mapping.NewRegistry())
	_, err := loader.Load(testutil.Context(t), writeDefinition(t, "bad.hcl", bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mapping kind")
}

func TestLoad_UnknownReducer_IsRejected(t *testing.T) {
	t.Parallel()

	bad := `
composition "bad" {
  template "t" {
    sql = "SELECT {{v}}"
    parameter "v" {
      type = "number"
    }
  }
  node "a" { template = "t" }
  node "b" { template = "t" }
  connection {
    from = "a"
    to   = "b"
    map "v" {
      kind         = "aggregate"
      source_field = "v"
      reducer      = "median"
    }
  }
}
`
	loader := hclgrid.NewLoader(mapping.NewRegistry())
	_, err := loader.Load(testutil.Context(t), writeDefinition(t, "bad.hcl", bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reducer")
}

func TestLoad_UnknownTransform_IsRejected(t *testing.T) {
	t.Parallel()

	bad := `
composition "bad" {
  template "t" {
    sql = "SELECT {{v}}"
    parameter "v" {
      type = "string"
    }
  }
  node "a" { template = "t" }
  node "b" { template = "t" }
  connection {
    from = "a"
    to   = "b"
    map "v" {
      kind         = "transform"
      source_field = "v"
      transform    = "no_such_thing"
    }
  }
}
`
	loader := hclgrid.NewLoader(mapping.NewRegistry())
	_, err := loader.Load(testutil.Context(t), writeDefinition(t, "bad.hcl", bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_thing")
}

func TestLoad_CyclicComposition_FailsValidation(t *testing.T) {
	t.Parallel()

	cyclic := `
composition "cyclic" {
  template "t" {
    sql = "SELECT 1"
  }
  node "a" { template = "t" }
  node "b" { template = "t" }
  connection {
    from = "a"
    to   = "b"
  }
  connection {
    from = "b"
    to   = "a"
  }
}
`
	loader := hclgrid.NewLoader(mapping.NewRegistry())
	_, err := loader.Load(testutil.Context(t), writeDefinition(t, "cyclic.hcl", cyclic))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoad_DuplicateCompositionID_IsRejected(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	def := `
composition "dup" {
  template "t" {
    sql = "SELECT 1"
  }
  node "a" { template = "t" }
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(def), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(def), 0o644))

	loader := hclgrid.NewLoader(mapping.NewRegistry())
	_, err := loader.Load(testutil.Context(t), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined")
}

func TestLoad_MissingPath_IsSkipped(t *testing.T) {
	t.Parallel()

	loader := hclgrid.NewLoader(mapping.NewRegistry())
	graphs, err := loader.Load(testutil.Context(t), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, graphs)
}
