package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateOrchestrator(); err != nil {
		return err
	}
	if err := c.validateResources(); err != nil {
		return err
	}
	if err := c.validateActuator(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	o := c.Orchestrator
	if o.Workers < 1 || o.Workers > maxWorkers {
		return fmt.Errorf("orchestrator.workers must be between 1 and %d", maxWorkers)
	}
	if o.MaxRetries < 0 {
		return errors.New("orchestrator.max_retries must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"orchestrator.retry_base_seconds":       o.RetryBaseSeconds,
		"orchestrator.retry_max_seconds":        o.RetryMaxSeconds,
		"orchestrator.dispatch_timeout_seconds": o.DispatchTimeoutSeconds,
		"orchestrator.poll_interval_seconds":    o.PollIntervalSeconds,
		"orchestrator.heartbeat_interval":       o.HeartbeatInterval,
		"orchestrator.heartbeat_timeout":        o.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if o.RetryMaxSeconds < o.RetryBaseSeconds {
		return errors.New("orchestrator.retry_max_seconds must be >= orchestrator.retry_base_seconds")
	}
	if o.HeartbeatTimeout <= o.HeartbeatInterval {
		return errors.New("orchestrator.heartbeat_timeout must be greater than orchestrator.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateResources() error {
	r := c.Resources
	if r.SampleIntervalSeconds <= 0 {
		return errors.New("resources.sample_interval_seconds must be positive")
	}
	if r.CPUCeilingPercent <= 0 || r.CPUCeilingPercent > 100 {
		return errors.New("resources.cpu_ceiling_percent must be between 0 and 100")
	}
	if r.CPUFloorPercent <= 0 || r.CPUFloorPercent > 100 {
		return errors.New("resources.cpu_floor_percent must be between 0 and 100")
	}
	if r.CPUFloorPercent >= r.CPUCeilingPercent {
		return errors.New("resources.cpu_floor_percent must be below resources.cpu_ceiling_percent")
	}
	if r.TempResumeCelsius >= r.TempLimitCelsius {
		return errors.New("resources.temp_resume_celsius must be below resources.temp_limit_celsius")
	}
	return nil
}

func (c *Config) validateActuator() error {
	if strings.TrimSpace(c.Actuator.BaseURL) == "" {
		return errors.New("actuator.base_url must be set")
	}
	if c.Actuator.RequestTimeoutSeconds <= 0 {
		return errors.New("actuator.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
