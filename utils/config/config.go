package config

import (
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v2"
)

var (
	ErrWeights       = errors.New("signal weights must sum to 1.0")
	ErrGreenRange    = errors.New("min_green must be less than max_green")
	ErrMinPhase      = errors.New("min_phase_duration must not exceed min_green")
	ErrDefaultGreen  = errors.New("default_green must be within [min_green, max_green]")
	ErrInterval      = errors.New("control.step.interval must be positive")
	ErrDecay         = errors.New("telemetry.decay_factor must be within (0, 1]")
	ErrRange         = errors.New("preemption.detection_range must be positive")
	ErrNoPriority    = errors.New("preemption enabled without vehicle_ids or vehicle_classes")
	ErrColor         = errors.New("preemption.color must have 4 components within [0, 255]")
	ErrBridgeAddress = errors.New("bridge.address must not be empty")
	ErrFairness      = errors.New("signal.fairness_max_skip must be positive and fairness bonuses non-negative")
	ErrThreshold     = errors.New("signal.switch_threshold must not be negative")
)

const weightTolerance = 0.01

// Default 默认配置
// 说明：取值与原有控制器保持一致
func Default() Config {
	return Config{
		Bridge: Bridge{
			Network:      "unix",
			Address:      "/tmp/sumo-bridge.sock",
			DialTimeout:  5,
			CallTimeout:  10,
			MaxRetries:   10,
			RetryBackoff: 0.5,
		},
		Control: Control{
			Step:            ControlStep{Start: 0, Total: 3600, Interval: 1},
			StopWhenDrained: true,
		},
		Signal: Signal{
			MinGreen:             20,
			MaxGreen:             90,
			MinPhaseDuration:     15,
			DefaultGreen:         25,
			SwitchThreshold:      0.10,
			Weights:              Weights{Density: 0.4, Wait: 0.4, Queue: 0.2},
			FairnessBonusPerSkip: 0.08,
			FairnessBonusCap:     0.5,
			FairnessMaxSkip:      8,
			FallbackScore:        0.5,
		},
		Telemetry: Telemetry{
			DecayFactor:       0.995,
			Floor:             1.0,
			DefaultLaneLength: 100,
		},
		Preemption: Preemption{
			Enabled:        true,
			VehicleIDs:     []string{"emergency"},
			VehicleClasses: []string{"emergency"},
			DetectionRange: 150,
			SpeedMode:      23,
			Color:          []int{255, 0, 0, 255},
			RestoreOnExit:  true,
		},
	}
}

// Load 解析YAML配置
// 功能：在默认配置之上严格解析YAML（未知字段报错），并校验
// 参数：data-YAML内容
// 返回：配置与错误
func Load(data []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	return c, c.Validate()
}

// Validate 校验配置
// 功能：检查所有参数约束，返回全部问题（errors.Join），任何一项不满足即视为致命错误
func (c Config) Validate() error {
	var errs []error
	w := c.Signal.Weights
	if sum := w.Density + w.Wait + w.Queue; math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Errorf("%w (got %.3f)", ErrWeights, sum))
	}
	s := c.Signal
	if s.MinGreen >= s.MaxGreen {
		errs = append(errs, fmt.Errorf("%w (got %v >= %v)", ErrGreenRange, s.MinGreen, s.MaxGreen))
	}
	if s.MinPhaseDuration > s.MinGreen {
		errs = append(errs, fmt.Errorf("%w (got %v > %v)", ErrMinPhase, s.MinPhaseDuration, s.MinGreen))
	}
	if s.DefaultGreen < s.MinGreen || s.DefaultGreen > s.MaxGreen {
		errs = append(errs, fmt.Errorf("%w (got %v)", ErrDefaultGreen, s.DefaultGreen))
	}
	if s.SwitchThreshold < 0 {
		errs = append(errs, fmt.Errorf("%w (got %v)", ErrThreshold, s.SwitchThreshold))
	}
	if s.FairnessMaxSkip <= 0 || s.FairnessBonusPerSkip < 0 || s.FairnessBonusCap < 0 {
		errs = append(errs, fmt.Errorf("%w (got max_skip=%d bonus=%v cap=%v)", ErrFairness, s.FairnessMaxSkip, s.FairnessBonusPerSkip, s.FairnessBonusCap))
	}
	if c.Control.Step.Interval <= 0 {
		errs = append(errs, ErrInterval)
	}
	if d := c.Telemetry.DecayFactor; d <= 0 || d > 1 {
		errs = append(errs, fmt.Errorf("%w (got %v)", ErrDecay, d))
	}
	if c.Bridge.Address == "" {
		errs = append(errs, ErrBridgeAddress)
	}
	p := c.Preemption
	if p.Enabled {
		if p.DetectionRange <= 0 {
			errs = append(errs, ErrRange)
		}
		if len(p.VehicleIDs) == 0 && len(p.VehicleClasses) == 0 {
			errs = append(errs, ErrNoPriority)
		}
		if len(p.Color) != 4 {
			errs = append(errs, ErrColor)
		} else {
			for _, v := range p.Color {
				if v < 0 || v > 255 {
					errs = append(errs, ErrColor)
					break
				}
			}
		}
	}
	return errors.Join(errs...)
}
