package app

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/loopctl-dev/loopctl/internal/loop"
	"github.com/loopctl-dev/loopctl/internal/pid"
)

const envPrefix = "LOOPCTL_"

type Config struct {
	DeviceID    string `koanf:"device_id"`
	Controllers struct {
		HTTP   HTTPConfig   `koanf:"http"`
		MQTT   MQTTConfig   `koanf:"mqtt"`
		MODBUS ModbusConfig `koanf:"modbus"`
	} `koanf:"controllers"`

	Loop  LoopConfig  `koanf:"loop"`
	PID   PIDConfig   `koanf:"pid"`
	Tuner TunerConfig `koanf:"tuner"`
	Plant PlantConfig `koanf:"plant"`
}

// LoopConfig seeds the loop's initial state.
type LoopConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Setpoint     float64       `koanf:"setpoint"`
	SetpointMin  float64       `koanf:"setpoint_min"`
	SetpointMax  float64       `koanf:"setpoint_max"`
	Mode         string        `koanf:"mode"` // "manual" | "auto" | "adaptive"
	ProcessValue float64       `koanf:"process_value"`
	StepInterval time.Duration `koanf:"step_interval"`
}

type PIDConfig struct {
	Kp float64 `koanf:"kp"`
	Ki float64 `koanf:"ki"`
	Kd float64 `koanf:"kd"`

	MinOutput float64 `koanf:"min_output"`
	MaxOutput float64 `koanf:"max_output"`

	Tau             float64 `koanf:"tau"`
	ResetDelta      float64 `koanf:"reset_delta"`
	BackCalculation float64 `koanf:"back_calculation"`
}

type TunerConfig struct {
	TuneRate       float64 `koanf:"tune_rate"`
	ErrorThreshold float64 `koanf:"error_threshold"`
}

type PlantConfig struct {
	ActuatorGain    float64 `koanf:"actuator_gain"`
	LossCoefficient float64 `koanf:"loss_coefficient"`
	AmbientLevel    float64 `koanf:"ambient_level"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainSnapshot  bool          `koanf:"retain_snapshot"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	UnitID  byte   `koanf:"unit_id"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.DeviceID = "default"
	cfg.Controllers.HTTP = HTTPConfig{Enabled: true, Addr: ":8080"}
	cfg.Controllers.MQTT = MQTTConfig{QoS: 1, PublishInterval: time.Second}
	cfg.Controllers.MODBUS = ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1}
	cfg.Loop = LoopConfig{
		Enabled:      true,
		Setpoint:     22.0,
		SetpointMin:  16.0,
		SetpointMax:  28.0,
		Mode:         "auto",
		ProcessValue: 21.0,
		StepInterval: 100 * time.Millisecond,
	}
	cfg.PID = PIDConfig{
		Kp:              1.0,
		Ki:              0.1,
		Kd:              0.05,
		MinOutput:       -100.0,
		MaxOutput:       100.0,
		Tau:             pid.DefaultTau,
		ResetDelta:      pid.DefaultResetDelta,
		BackCalculation: pid.DefaultBackCalculation,
	}
	cfg.Tuner = TunerConfig{
		TuneRate:       pid.DefaultTuneRate,
		ErrorThreshold: pid.DefaultErrorThreshold,
	}
	cfg.Plant = PlantConfig{
		ActuatorGain:    0.1,
		LossCoefficient: 0.02,
		AmbientLevel:    15.0,
	}
	return cfg
}

// LoadConfig layers defaults, an optional yaml/json file and LOOPCTL_*
// environment variables, in that order of precedence (later wins).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserForPath(path)
		if err != nil {
			return Config{}, err
		}
		switch _, statErr := os.Stat(path); {
		case statErr == nil:
			if err := k.Load(file.Provider(path), parser); err != nil {
				return Config{}, fmt.Errorf("load config %s: %w", path, err)
			}
		case os.IsNotExist(statErr):
			// Config file missing → defaults
		default:
			return Config{}, fmt.Errorf("stat config %s: %w", path, statErr)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	normalize(&cfg)
	return cfg, nil
}

func parserForPath(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
}

func normalize(cfg *Config) {
	c := &cfg.Controllers
	if !c.HTTP.Enabled && !c.MQTT.Enabled && !c.MODBUS.Enabled {
		c.HTTP.Enabled = true
	}
	if bc := cfg.PID.BackCalculation; bc < 0 || bc > 1 {
		log.Printf("config: pid.back_calculation=%g outside [0, 1]", bc)
	}
}

// envKeyTransform maps LOOPCTL_* variable names (prefix already stripped) to
// dotted config keys: CONTROLLERS_HTTP_ADDR → controllers.http.addr,
// PID_RESET_DELTA → pid.reset_delta. Unknown shapes pass through lowercased.
func envKeyTransform(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return ""
	}
	parts := strings.Split(key, "_")
	switch {
	case parts[0] == "controllers" && len(parts) >= 3:
		return parts[0] + "." + parts[1] + "." + strings.Join(parts[2:], "_")
	case isSection(parts[0]) && len(parts) >= 2:
		return parts[0] + "." + strings.Join(parts[1:], "_")
	default:
		return key
	}
}

func isSection(s string) bool {
	switch s {
	case "loop", "pid", "tuner", "plant":
		return true
	}
	return false
}

func (c Config) Snapshot() (loop.Snapshot, error) {
	mode, err := loop.ParseMode(c.Loop.Mode)
	if err != nil {
		return loop.Snapshot{}, err
	}
	return loop.Snapshot{
		Enabled:      c.Loop.Enabled,
		Setpoint:     c.Loop.Setpoint,
		SetpointMin:  c.Loop.SetpointMin,
		SetpointMax:  c.Loop.SetpointMax,
		Mode:         mode,
		ProcessValue: c.Loop.ProcessValue,
	}, nil
}

func (c Config) PIDParams() pid.Params {
	return pid.Params{
		Kp:              c.PID.Kp,
		Ki:              c.PID.Ki,
		Kd:              c.PID.Kd,
		MinOutput:       c.PID.MinOutput,
		MaxOutput:       c.PID.MaxOutput,
		Tau:             c.PID.Tau,
		ResetDelta:      c.PID.ResetDelta,
		BackCalculation: c.PID.BackCalculation,
	}
}

func (c Config) TunerParams() pid.TunerParams {
	return pid.TunerParams{
		TuneRate:       c.Tuner.TuneRate,
		ErrorThreshold: c.Tuner.ErrorThreshold,
	}
}

func (c Config) PlantParams() loop.PlantParams {
	return loop.PlantParams{
		ActuatorGain:    c.Plant.ActuatorGain,
		LossCoefficient: c.Plant.LossCoefficient,
		AmbientLevel:    c.Plant.AmbientLevel,
	}
}
