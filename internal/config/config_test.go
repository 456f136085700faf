package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, p, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := Load(LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	require.NoError(t, err)

	require.Equal(t, BackendMem, cfg.Backend)
	require.Equal(t, "/", cfg.RootAbs)
	require.True(t, cfg.HistoryEnabled())
	require.Zero(t, cfg.TraceCapacity())
	require.Empty(t, cfg.Sources.Global)
	require.Empty(t, cfg.Sources.Project)
	require.Equal(t, dir, cfg.EffectiveCwd)
}

func Test_Load_Applies_Precedence_When_All_Layers_Are_Present(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := filepath.Join(dir, "xdg")

	writeConfig(t, filepath.Join(xdg, "vfsh", "config.json"), `{
		// global
		"backend": "os",
		"log_level": "info",
		"history": false,
		"trace": 10,
	}`)
	writeConfig(t, filepath.Join(dir, FileName), `{"log_level": "debug", "root": "sandbox"}`)

	trace := 50

	cfg, err := Load(LoadInput{
		WorkDirOverride: dir,
		Overrides:       Config{Trace: &trace},
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg},
	})
	require.NoError(t, err)

	require.Equal(t, BackendOS, cfg.Backend)
	require.Equal(t, "debug", cfg.LogLevel)
	require.False(t, cfg.HistoryEnabled())
	require.Equal(t, 50, cfg.TraceCapacity())
	require.Equal(t, filepath.Join(dir, "sandbox"), cfg.RootAbs)
	require.Equal(t, filepath.Join(xdg, "vfsh", "config.json"), cfg.Sources.Global)
	require.Equal(t, filepath.Join(dir, FileName), cfg.Sources.Project)
}

func Test_Load_Uses_Home_Config_When_XDG_Is_Unset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	home := filepath.Join(dir, "home")

	writeConfig(t, filepath.Join(home, ".config", "vfsh", "config.json"), `{"temp_root": "/scratch"}`)

	cfg, err := Load(LoadInput{WorkDirOverride: dir, Env: map[string]string{"HOME": home}})
	require.NoError(t, err)
	require.Equal(t, "/scratch", cfg.TempRoot)
}

func Test_Load_Replaces_Project_File_When_Explicit_Config_Is_Given(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeConfig(t, filepath.Join(dir, FileName), `{"seed": "project.yaml"}`)
	writeConfig(t, filepath.Join(dir, "alt.json"), `{"seed": "alt.yaml"}`)

	cfg, err := Load(LoadInput{WorkDirOverride: dir, ConfigPath: "alt.json"})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "alt.yaml"), cfg.SeedAbs)
	require.Equal(t, filepath.Join(dir, "alt.json"), cfg.Sources.Project)
}

func Test_Load_Returns_Error_When_Explicit_Config_Is_Missing(t *testing.T) {
	t.Parallel()

	_, err := Load(LoadInput{WorkDirOverride: t.TempDir(), ConfigPath: "nope.json"})
	require.ErrorIs(t, err, ErrFileNotFound)
	require.ErrorContains(t, err, "nope.json")
}

func Test_Load_Names_Field_When_Value_Is_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		field   string
	}{
		{name: "backend", content: `{"backend": "s3"}`, field: "backend"},
		{name: "empty backend", content: `{"backend": ""}`, field: "backend"},
		{name: "log level", content: `{"log_level": "chatty"}`, field: "log_level"},
		{name: "trace", content: `{"trace": -1}`, field: "trace"},
		{name: "chaos", content: `{"chaos": 1.5}`, field: "chaos"},
		{name: "temp root", content: `{"backend": "os", "temp_root": "rel"}`, field: "temp_root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeConfig(t, filepath.Join(dir, FileName), tt.content)

			_, err := Load(LoadInput{WorkDirOverride: dir})
			require.ErrorIs(t, err, ErrInvalidValue)
			require.ErrorContains(t, err, tt.field)
		})
	}
}

func Test_Load_Rejects_File_When_Syntax_Or_Keys_Are_Wrong(t *testing.T) {
	t.Parallel()

	for _, content := range []string{`{"backend": `, `{"backnd": "mem"}`} {
		dir := t.TempDir()
		writeConfig(t, filepath.Join(dir, FileName), content)

		_, err := Load(LoadInput{WorkDirOverride: dir})
		require.ErrorIs(t, err, ErrInvalid, "content %q", content)
	}
}

func Test_Load_Resolves_Mem_Root_Inside_Backend_When_Relative(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := Load(LoadInput{WorkDirOverride: dir, Overrides: Config{Root: "work/../home"}})
	require.NoError(t, err)
	require.Equal(t, "/home", cfg.RootAbs)
}
