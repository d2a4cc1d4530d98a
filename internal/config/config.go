package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file. It is the
// single source of truth for default tuning values.
const DefaultConfigPath = "config/breathwatch.defaults.json"

// Config is the root service configuration. The schema matches the
// /api/config endpoint so the same JSON serves both startup configuration
// and runtime inspection. All fields are optional; the Get* methods supply
// defaults for anything left nil.
type Config struct {
	// Listener addresses
	HTTPListenAddr  *string `json:"http_listen_addr,omitempty"`
	VideoListenAddr *string `json:"video_listen_addr,omitempty"`
	DataListenAddr  *string `json:"data_listen_addr,omitempty"`

	// Sensor params
	SerialPort    *string  `json:"serial_port,omitempty"`
	BaudRate      *int     `json:"baud_rate,omitempty"`
	SampleRate    *float64 `json:"sample_rate,omitempty"`
	SensorBackoff *string  `json:"sensor_backoff,omitempty"` // duration string like "5s"

	// Signal conditioning params
	HighPassCutoffHz *float64 `json:"high_pass_cutoff_hz,omitempty"`
	LowPassCutoffHz  *float64 `json:"low_pass_cutoff_hz,omitempty"`
	DenoiseFraction  *float64 `json:"denoise_fraction,omitempty"`
	SmoothingWindow  *int     `json:"smoothing_window,omitempty"`
	SmoothingOrder   *int     `json:"smoothing_order,omitempty"`
	ProcessNoise     *float64 `json:"process_noise,omitempty"`
	MeasurementNoise *float64 `json:"measurement_noise,omitempty"`

	// Classification params
	MotionThreshold     *float64 `json:"motion_threshold,omitempty"`
	NoMovementThreshold *float64 `json:"no_movement_threshold,omitempty"`

	// Alarm params
	AlarmPendingLimit    *int `json:"alarm_pending_limit,omitempty"`
	AlarmActiveLimit     *int `json:"alarm_active_limit,omitempty"`
	AlarmValidationLimit *int `json:"alarm_validation_limit,omitempty"`

	// Telemetry params
	HistoryCapacity *int    `json:"history_capacity,omitempty"`
	TelemetryMode   *string `json:"telemetry_mode,omitempty"` // "line" or "framed_json"
	WriteTimeout    *string `json:"write_timeout,omitempty"`  // duration string like "2s"

	// Video params
	FrameRate      *float64 `json:"frame_rate,omitempty"`
	Resolution     *string  `json:"resolution,omitempty"` // "WIDTHxHEIGHT"
	CaptureBackoff *string  `json:"capture_backoff,omitempty"`
	RecordingPath  *string  `json:"recording_path,omitempty"` // MJPEG file for replay mode

	// Notification params
	AlertWebhookURL *string `json:"alert_webhook_url,omitempty"`

	// Storage params
	DBPath        *string `json:"db_path,omitempty"`
	MigrationsDir *string `json:"migrations_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields set to nil.
// Use Load to read actual values from a file.
func EmptyConfig() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and stay under the max file size. Fields omitted from the JSON
// retain their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that set configuration values are usable.
func (c *Config) Validate() error {
	if c.SampleRate != nil && *c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %f", *c.SampleRate)
	}

	if c.HighPassCutoffHz != nil && *c.HighPassCutoffHz <= 0 {
		return fmt.Errorf("high_pass_cutoff_hz must be positive, got %f", *c.HighPassCutoffHz)
	}
	if c.LowPassCutoffHz != nil && *c.LowPassCutoffHz <= 0 {
		return fmt.Errorf("low_pass_cutoff_hz must be positive, got %f", *c.LowPassCutoffHz)
	}
	if c.HighPassCutoffHz != nil && c.LowPassCutoffHz != nil && *c.HighPassCutoffHz >= *c.LowPassCutoffHz {
		return fmt.Errorf("high_pass_cutoff_hz %f must be below low_pass_cutoff_hz %f", *c.HighPassCutoffHz, *c.LowPassCutoffHz)
	}

	if c.DenoiseFraction != nil {
		if *c.DenoiseFraction < 0 || *c.DenoiseFraction > 1 {
			return fmt.Errorf("denoise_fraction must be between 0 and 1, got %f", *c.DenoiseFraction)
		}
	}

	if c.SmoothingWindow != nil {
		if *c.SmoothingWindow < 3 || *c.SmoothingWindow%2 == 0 {
			return fmt.Errorf("smoothing_window must be an odd number >= 3, got %d", *c.SmoothingWindow)
		}
	}
	if c.SmoothingWindow != nil && c.SmoothingOrder != nil && *c.SmoothingOrder >= *c.SmoothingWindow {
		return fmt.Errorf("smoothing_order %d must be below smoothing_window %d", *c.SmoothingOrder, *c.SmoothingWindow)
	}

	if c.MotionThreshold != nil && *c.MotionThreshold < 0 {
		return fmt.Errorf("motion_threshold must be non-negative, got %f", *c.MotionThreshold)
	}
	if c.NoMovementThreshold != nil && *c.NoMovementThreshold < 0 {
		return fmt.Errorf("no_movement_threshold must be non-negative, got %f", *c.NoMovementThreshold)
	}

	if c.AlarmPendingLimit != nil && *c.AlarmPendingLimit <= 0 {
		return fmt.Errorf("alarm_pending_limit must be positive, got %d", *c.AlarmPendingLimit)
	}
	if c.AlarmValidationLimit != nil && *c.AlarmValidationLimit <= 0 {
		return fmt.Errorf("alarm_validation_limit must be positive, got %d", *c.AlarmValidationLimit)
	}

	if c.HistoryCapacity != nil && *c.HistoryCapacity <= 0 {
		return fmt.Errorf("history_capacity must be positive, got %d", *c.HistoryCapacity)
	}

	if c.TelemetryMode != nil {
		switch *c.TelemetryMode {
		case "", "line", "framed_json":
		default:
			return fmt.Errorf("telemetry_mode must be \"line\" or \"framed_json\", got %q", *c.TelemetryMode)
		}
	}

	if c.FrameRate != nil && *c.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be positive, got %f", *c.FrameRate)
	}

	if c.Resolution != nil && *c.Resolution != "" {
		if err := validateResolution(*c.Resolution); err != nil {
			return err
		}
	}

	for name, v := range map[string]*string{
		"sensor_backoff":  c.SensorBackoff,
		"write_timeout":   c.WriteTimeout,
		"capture_backoff": c.CaptureBackoff,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	return nil
}

// validateResolution checks the "WIDTHxHEIGHT" shape without importing the
// camera package.
func validateResolution(s string) error {
	var w, h int
	if n, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil || n != 2 {
		return fmt.Errorf("invalid resolution %q: expected WIDTHxHEIGHT", s)
	}
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid resolution %q: dimensions must be positive", s)
	}
	return nil
}

// GetHTTPListenAddr returns the HTTP listen address or the default.
func (c *Config) GetHTTPListenAddr() string {
	if c.HTTPListenAddr == nil || *c.HTTPListenAddr == "" {
		return ":8080"
	}
	return *c.HTTPListenAddr
}

// GetVideoListenAddr returns the video channel listen address or the default.
func (c *Config) GetVideoListenAddr() string {
	if c.VideoListenAddr == nil || *c.VideoListenAddr == "" {
		return ":9999"
	}
	return *c.VideoListenAddr
}

// GetDataListenAddr returns the telemetry channel listen address or the default.
func (c *Config) GetDataListenAddr() string {
	if c.DataListenAddr == nil || *c.DataListenAddr == "" {
		return ":32345"
	}
	return *c.DataListenAddr
}

// GetSerialPort returns the sensor serial port path, empty when unset.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetBaudRate returns the baud_rate value or the default.
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetSampleRate returns the sample_rate value or the default.
func (c *Config) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return 30.0
	}
	return *c.SampleRate
}

// GetSensorBackoff parses and returns the SensorBackoff duration.
func (c *Config) GetSensorBackoff() time.Duration {
	return c.duration(c.SensorBackoff, 5*time.Second)
}

// GetHighPassCutoffHz returns the high_pass_cutoff_hz value or the default.
func (c *Config) GetHighPassCutoffHz() float64 {
	if c.HighPassCutoffHz == nil {
		return 0.5
	}
	return *c.HighPassCutoffHz
}

// GetLowPassCutoffHz returns the low_pass_cutoff_hz value or the default.
func (c *Config) GetLowPassCutoffHz() float64 {
	if c.LowPassCutoffHz == nil {
		return 2.5
	}
	return *c.LowPassCutoffHz
}

// GetDenoiseFraction returns the denoise_fraction value or the default.
func (c *Config) GetDenoiseFraction() float64 {
	if c.DenoiseFraction == nil {
		return 0.1
	}
	return *c.DenoiseFraction
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *Config) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 11
	}
	return *c.SmoothingWindow
}

// GetSmoothingOrder returns the smoothing_order value or the default.
func (c *Config) GetSmoothingOrder() int {
	if c.SmoothingOrder == nil {
		return 3
	}
	return *c.SmoothingOrder
}

// GetProcessNoise returns the process_noise value or the default.
func (c *Config) GetProcessNoise() float64 {
	if c.ProcessNoise == nil {
		return 1e-5
	}
	return *c.ProcessNoise
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *Config) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 1e-2
	}
	return *c.MeasurementNoise
}

// GetMotionThreshold returns the motion_threshold value or the default.
func (c *Config) GetMotionThreshold() float64 {
	if c.MotionThreshold == nil {
		return 0.05
	}
	return *c.MotionThreshold
}

// GetNoMovementThreshold returns the no_movement_threshold value or the default.
func (c *Config) GetNoMovementThreshold() float64 {
	if c.NoMovementThreshold == nil {
		return 0.02
	}
	return *c.NoMovementThreshold
}

// GetAlarmPendingLimit returns the alarm_pending_limit value or the default.
func (c *Config) GetAlarmPendingLimit() int {
	if c.AlarmPendingLimit == nil {
		return 200
	}
	return *c.AlarmPendingLimit
}

// GetAlarmActiveLimit returns the alarm_active_limit value or the default.
func (c *Config) GetAlarmActiveLimit() int {
	if c.AlarmActiveLimit == nil {
		return 30
	}
	return *c.AlarmActiveLimit
}

// GetAlarmValidationLimit returns the alarm_validation_limit value or the default.
func (c *Config) GetAlarmValidationLimit() int {
	if c.AlarmValidationLimit == nil {
		return 230
	}
	return *c.AlarmValidationLimit
}

// GetHistoryCapacity returns the history_capacity value or the default.
func (c *Config) GetHistoryCapacity() int {
	if c.HistoryCapacity == nil {
		return 300
	}
	return *c.HistoryCapacity
}

// GetTelemetryMode returns the telemetry_mode value or the default.
func (c *Config) GetTelemetryMode() string {
	if c.TelemetryMode == nil || *c.TelemetryMode == "" {
		return "framed_json"
	}
	return *c.TelemetryMode
}

// GetWriteTimeout parses and returns the WriteTimeout duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return c.duration(c.WriteTimeout, 2*time.Second)
}

// GetFrameRate returns the frame_rate value or the default.
func (c *Config) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 15.0
	}
	return *c.FrameRate
}

// GetResolution returns the resolution value or the default.
func (c *Config) GetResolution() string {
	if c.Resolution == nil || *c.Resolution == "" {
		return "1280x720"
	}
	return *c.Resolution
}

// GetCaptureBackoff parses and returns the CaptureBackoff duration.
func (c *Config) GetCaptureBackoff() time.Duration {
	return c.duration(c.CaptureBackoff, 2*time.Second)
}

// GetRecordingPath returns the replay recording path, empty when unset.
func (c *Config) GetRecordingPath() string {
	if c.RecordingPath == nil {
		return ""
	}
	return *c.RecordingPath
}

// GetAlertWebhookURL returns the webhook URL, empty when unset.
func (c *Config) GetAlertWebhookURL() string {
	if c.AlertWebhookURL == nil {
		return ""
	}
	return *c.AlertWebhookURL
}

// GetDBPath returns the db_path value or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "breathwatch.db"
	}
	return *c.DBPath
}

// GetMigrationsDir returns the migrations_dir value or the default.
func (c *Config) GetMigrationsDir() string {
	if c.MigrationsDir == nil || *c.MigrationsDir == "" {
		return "internal/db/migrations"
	}
	return *c.MigrationsDir
}

func (c *Config) duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
