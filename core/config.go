package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Renderer RendererConfiguration
	Log      LogConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the delay between event polls in milliseconds
	EventPollDelay int
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	SwapchainSize    uint32
	DeviceExtensions []string

	ScreenWidth  uint32
	ScreenHeight uint32

	// FramesInFlight is the number of frame slots the CPU may record
	// ahead of the GPU.
	FramesInFlight int

	// MaxObjects is the capacity of each slot's object transform buffer.
	MaxObjects int

	// FrameTimeout bounds every fence and image acquisition wait.
	FrameTimeout time.Duration

	ShaderDirectory string
	Debug           bool

	FailurePolicy FailurePolicy
}

// LogConfiguration configures the logrus standard logger
type LogConfiguration struct {
	Level  log.Level
	Format string
}

// DefaultConfiguration returns the configuration used when nothing is set.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  16,
		},
		Renderer: RendererConfiguration{
			SwapchainSize:   3,
			ScreenWidth:     1280,
			ScreenHeight:    720,
			FramesInFlight:  2,
			MaxObjects:      10000,
			FrameTimeout:    time.Second,
			ShaderDirectory: "shaders",
		},
		Log: LogConfiguration{
			Level:  log.InfoLevel,
			Format: "text",
		},
	}
}

// Environment keys read by LoadConfiguration
const (
	EnvWidth          = "KORU_WIDTH"
	EnvHeight         = "KORU_HEIGHT"
	EnvSwapchainSize  = "KORU_SWAPCHAIN_SIZE"
	EnvFramesInFlight = "KORU_FRAMES_IN_FLIGHT"
	EnvMaxObjects     = "KORU_MAX_OBJECTS"
	EnvFrameTimeout   = "KORU_FRAME_TIMEOUT"
	EnvFPS            = "KORU_FPS"
	EnvEventPollDelay = "KORU_EVENT_POLL_DELAY"
	EnvShaderDir      = "KORU_SHADER_DIR"
	EnvDebug          = "KORU_DEBUG"
	EnvFailurePolicy  = "KORU_FAILURE_POLICY"
	EnvLogLevel       = "KORU_LOG_LEVEL"
	EnvLogFormat      = "KORU_LOG_FORMAT"
)

// LoadConfiguration loads the given dotenv files, files that do not exist
// are skipped, and builds the configuration from the environment on top of
// DefaultConfiguration.
func LoadConfiguration(files ...string) (Configuration, error) {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Configuration{}, fmt.Errorf("godotenv.Load(): %s", err.Error())
		}
	}
	envy.Reload()

	cfg := DefaultConfiguration()
	p := envParser{}

	cfg.Renderer.ScreenWidth = p.getUint32(EnvWidth, cfg.Renderer.ScreenWidth)
	cfg.Renderer.ScreenHeight = p.getUint32(EnvHeight, cfg.Renderer.ScreenHeight)
	cfg.Renderer.SwapchainSize = p.getUint32(EnvSwapchainSize, cfg.Renderer.SwapchainSize)
	cfg.Renderer.FramesInFlight = p.getInt(EnvFramesInFlight, cfg.Renderer.FramesInFlight)
	cfg.Renderer.MaxObjects = p.getInt(EnvMaxObjects, cfg.Renderer.MaxObjects)
	cfg.Renderer.FrameTimeout = p.getDuration(EnvFrameTimeout, cfg.Renderer.FrameTimeout)
	cfg.Renderer.ShaderDirectory = envy.Get(EnvShaderDir, cfg.Renderer.ShaderDirectory)
	cfg.Renderer.Debug = p.getBool(EnvDebug, cfg.Renderer.Debug)
	cfg.Time.FramesPerSecond = p.getInt(EnvFPS, cfg.Time.FramesPerSecond)
	cfg.Time.EventPollDelay = p.getInt(EnvEventPollDelay, cfg.Time.EventPollDelay)
	cfg.Log.Format = strings.ToLower(envy.Get(EnvLogFormat, cfg.Log.Format))

	if v := envy.Get(EnvFailurePolicy, ""); v != "" {
		policy, err := ParseFailurePolicy(v)
		if err != nil {
			p.fail(EnvFailurePolicy, err)
		}
		cfg.Renderer.FailurePolicy = policy
	}
	if v := envy.Get(EnvLogLevel, ""); v != "" {
		level, err := log.ParseLevel(v)
		if err != nil {
			p.fail(EnvLogLevel, err)
		}
		cfg.Log.Level = level
	}

	if p.err != nil {
		return Configuration{}, p.err
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the engine cannot run with.
func (c Configuration) Validate() error {
	r := c.Renderer
	switch {
	case r.ScreenWidth == 0 || r.ScreenHeight == 0:
		return fmt.Errorf("screen extent %dx%d is empty", r.ScreenWidth, r.ScreenHeight)
	case r.FramesInFlight < 1:
		return fmt.Errorf("frames in flight must be at least 1, got %d", r.FramesInFlight)
	case r.MaxObjects < 1:
		return fmt.Errorf("max objects must be at least 1, got %d", r.MaxObjects)
	case r.FrameTimeout <= 0:
		return fmt.Errorf("frame timeout must be positive, got %s", r.FrameTimeout)
	case c.Time.FramesPerSecond < 0:
		return fmt.Errorf("frames per second must not be negative, got %d", c.Time.FramesPerSecond)
	case c.Time.EventPollDelay < 1:
		return fmt.Errorf("event poll delay must be at least 1ms, got %d", c.Time.EventPollDelay)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ConfigureLogging applies cfg to the logrus standard logger.
func ConfigureLogging(cfg LogConfiguration) {
	log.SetLevel(cfg.Level)
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// envParser reads typed values from envy, keeping the first failure.
type envParser struct {
	err error
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %s", key, err.Error())
	}
}

func (p *envParser) getInt(key string, fallback int) int {
	v := envy.Get(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return n
}

func (p *envParser) getUint32(key string, fallback uint32) uint32 {
	v := envy.Get(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return uint32(n)
}

func (p *envParser) getBool(key string, fallback bool) bool {
	v := envy.Get(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return b
}

func (p *envParser) getDuration(key string, fallback time.Duration) time.Duration {
	v := envy.Get(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return fallback
	}
	return d
}
