package config

const (
	defaultDataDir = "~/.local/share/darkroom"
	defaultLogDir  = "~/.local/share/darkroom/logs"
	defaultAPIBind = "127.0.0.1:7410"

	defaultWorkers                = 2
	maxWorkers                    = 16
	defaultMaxRetries             = 3
	defaultRetryBaseSeconds       = 5
	defaultRetryMaxSeconds        = 600
	defaultDispatchTimeoutSeconds = 15
	defaultPollIntervalSeconds    = 5
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120

	defaultSampleIntervalSeconds = 3
	defaultCPUCeilingPercent     = 80.0
	defaultCPUFloorPercent       = 60.0
	defaultTempLimitCelsius      = 75.0
	defaultTempResumeCelsius     = 65.0
	defaultCPUStatPath           = "/proc/stat"
	defaultTempSensorPath        = "/sys/class/hwmon/hwmon0/temp1_input"

	defaultActuatorBaseURL        = "http://127.0.0.1:7411"
	defaultActuatorRequestTimeout = 30

	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Orchestrator: Orchestrator{
			Workers:                defaultWorkers,
			MaxRetries:             defaultMaxRetries,
			RetryBaseSeconds:       defaultRetryBaseSeconds,
			RetryMaxSeconds:        defaultRetryMaxSeconds,
			DispatchTimeoutSeconds: defaultDispatchTimeoutSeconds,
			PollIntervalSeconds:    defaultPollIntervalSeconds,
			HeartbeatInterval:      defaultHeartbeatInterval,
			HeartbeatTimeout:       defaultHeartbeatTimeout,
		},
		Resources: Resources{
			SampleIntervalSeconds: defaultSampleIntervalSeconds,
			CPUCeilingPercent:     defaultCPUCeilingPercent,
			CPUFloorPercent:       defaultCPUFloorPercent,
			TempLimitCelsius:      defaultTempLimitCelsius,
			TempResumeCelsius:     defaultTempResumeCelsius,
			CPUStatPath:           defaultCPUStatPath,
			TempSensorPath:        defaultTempSensorPath,
		},
		Actuator: Actuator{
			BaseURL:               defaultActuatorBaseURL,
			RequestTimeoutSeconds: defaultActuatorRequestTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completion:     true,
			DeadLetter:     true,
			Governor:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
