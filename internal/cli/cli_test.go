package cli_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/querygrid/internal/cli"
)

func TestParse_NoArguments_PrintsUsageAndExitsCleanly(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, shouldExit, err := cli.Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, shouldExit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParse_PositionalPathAndEngineURL(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, shouldExit, err := cli.Parse([]string{"-engine-url", "http://engine:8080", "grids/daily.hcl"}, &out)
	require.NoError(t, err)
	assert.False(t, shouldExit)
	assert.Equal(t, "grids/daily.hcl", cfg.DefinitionsPath)
	assert.Equal(t, "http://engine:8080", cfg.EngineURL)
	assert.Equal(t, 4, cfg.Workers)
}

func TestParse_MissingEngineURL_Fails(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, _, err := cli.Parse([]string{"grids/daily.hcl"}, &out)
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParse_RepeatedParams_AreTyped(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg, _, err := cli.Parse([]string{
		"-engine-url", "http://engine:8080",
		"-param", "fetch.region=eu-west-1",
		"-param", "fetch.limit=25",
		"-param", "fetch.dry_run=true",
		"grids",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Parameters["fetch.region"])
	assert.Equal(t, 25.0, cfg.Parameters["fetch.limit"])
	assert.Equal(t, true, cfg.Parameters["fetch.dry_run"])
}

func TestParse_UnqualifiedParam_Fails(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, _, err := cli.Parse([]string{
		"-engine-url", "http://engine:8080",
		"-param", "region=eu",
		"grids",
	}, &out)
	require.Error(t, err)
}

func TestParse_InvalidLogSettings_Fail(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, _, err := cli.Parse([]string{"-engine-url", "http://e", "-log-format", "xml", "grids"}, &out)
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)

	_, _, err = cli.Parse([]string{"-engine-url", "http://e", "-log-level", "loud", "grids"}, &out)
	require.ErrorAs(t, err, &exitErr)
}

func TestParse_Help_ExitsCleanly(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, shouldExit, err := cli.Parse([]string{"-h"}, &out)
	require.NoError(t, err)
	assert.True(t, shouldExit)
}
