package core_test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblok/vkframe/core"
	qt "github.com/frankban/quicktest"
	log "github.com/sirupsen/logrus"
)

func TestLoadConfigurationDefaults(t *testing.T) {
	c := qt.New(t)
	cfg, err := core.LoadConfiguration(filepath.Join(c.TempDir(), "missing.env"))
	c.Assert(err, qt.IsNil)
	c.Assert(cfg, qt.DeepEquals, core.DefaultConfiguration())
}

func TestLoadConfigurationFromEnvironment(t *testing.T) {
	c := qt.New(t)
	c.Setenv(core.EnvWidth, "800")
	c.Setenv(core.EnvHeight, "600")
	c.Setenv(core.EnvFramesInFlight, "3")
	c.Setenv(core.EnvMaxObjects, "128")
	c.Setenv(core.EnvFrameTimeout, "250ms")
	c.Setenv(core.EnvFPS, "0")
	c.Setenv(core.EnvDebug, "true")
	c.Setenv(core.EnvFailurePolicy, "continue")
	c.Setenv(core.EnvLogLevel, "debug")
	c.Setenv(core.EnvLogFormat, "JSON")

	cfg, err := core.LoadConfiguration()
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Renderer.ScreenWidth, qt.Equals, uint32(800))
	c.Assert(cfg.Renderer.ScreenHeight, qt.Equals, uint32(600))
	c.Assert(cfg.Renderer.FramesInFlight, qt.Equals, 3)
	c.Assert(cfg.Renderer.MaxObjects, qt.Equals, 128)
	c.Assert(cfg.Renderer.FrameTimeout, qt.Equals, 250*time.Millisecond)
	c.Assert(cfg.Renderer.Debug, qt.IsTrue)
	c.Assert(cfg.Renderer.FailurePolicy, qt.Equals, core.LogAndContinue)
	c.Assert(cfg.Time.FramesPerSecond, qt.Equals, 0)
	c.Assert(cfg.Log.Level, qt.Equals, log.DebugLevel)
	c.Assert(cfg.Log.Format, qt.Equals, "json")
}

func TestLoadConfigurationFromDotenv(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "koru.env")
	c.Assert(ioutil.WriteFile(path, []byte("KORU_SHADER_DIR=assets/shaders\nKORU_SWAPCHAIN_SIZE=2\n"), 0644), qt.IsNil)
	c.Cleanup(func() {
		os.Unsetenv(core.EnvShaderDir)
		os.Unsetenv(core.EnvSwapchainSize)
	})

	cfg, err := core.LoadConfiguration(path)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Renderer.ShaderDirectory, qt.Equals, "assets/shaders")
	c.Assert(cfg.Renderer.SwapchainSize, qt.Equals, uint32(2))
}

func TestLoadConfigurationInvalid(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		key, value, err string
	}{
		{core.EnvWidth, "wide", `KORU_WIDTH: strconv.ParseUint: parsing "wide": invalid syntax`},
		{core.EnvFrameTimeout, "soon", `KORU_FRAME_TIMEOUT: time: invalid duration "?soon"?`},
		{core.EnvFailurePolicy, "retry", `KORU_FAILURE_POLICY: unknown failure policy "retry"`},
		{core.EnvFramesInFlight, "0", `frames in flight must be at least 1, got 0`},
		{core.EnvLogFormat, "xml", `unknown log format "xml"`},
	}
	for _, test := range tests {
		c.Run(test.key, func(c *qt.C) {
			c.Setenv(test.key, test.value)
			_, err := core.LoadConfiguration()
			c.Assert(err, qt.ErrorMatches, test.err)
		})
	}
}

func TestValidate(t *testing.T) {
	c := qt.New(t)
	cfg := core.DefaultConfiguration()
	c.Assert(cfg.Validate(), qt.IsNil)

	cfg.Renderer.MaxObjects = 0
	c.Assert(cfg.Validate(), qt.ErrorMatches, "max objects must be at least 1, got 0")

	cfg = core.DefaultConfiguration()
	cfg.Renderer.ScreenHeight = 0
	c.Assert(cfg.Validate(), qt.ErrorMatches, "screen extent 1280x0 is empty")
}

func TestConfigureLogging(t *testing.T) {
	c := qt.New(t)
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	core.ConfigureLogging(core.LogConfiguration{Level: log.WarnLevel, Format: "json"})
	c.Assert(log.GetLevel(), qt.Equals, log.WarnLevel)
	_, isJSON := log.StandardLogger().Formatter.(*log.JSONFormatter)
	c.Assert(isJSON, qt.IsTrue, qt.Commentf("formatter %T", log.StandardLogger().Formatter))
}
