package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds runtime settings, loaded from the environment and an optional .env file.
type Config struct {
	Backend             string // dnn, cascade or pigo
	ModelPath           string
	ModelConfigPath     string // optional, only for frameworks that split graph and weights
	LabelsPath          string
	EyeCascadePath      string // cascade backend: eye classifier run inside face regions
	PuplocPath          string // pigo backend: pupil localization cascade
	ConfidenceThreshold float64
	NMSThreshold        float64
	ModelInputSize      int

	OutputDirectory string
	VideoCodec      string
	VideoFileName   string
	DefaultFPS      float64
	CameraIndex     int

	PreviewWindow bool
	PreviewAddr   string
	PreviewToken  string

	DatabasePath      string
	RecordFlushFrames int

	LogDirectory string
	LogLevel     string
}

// Load reads .env (if present) and builds the configuration.
// Variables already set in the process environment win over .env entries.
func Load() *Config {
	_ = godotenv.Load()
	return fromEnv()
}

// LoadFile is like Load but reads the given dotenv files instead of ./.env.
func LoadFile(filenames ...string) (*Config, error) {
	if err := godotenv.Load(filenames...); err != nil {
		return nil, err
	}
	return fromEnv(), nil
}

func fromEnv() *Config {
	output := getEnv("OUTPUT_DIR", "results")
	return &Config{
		Backend:             strings.ToLower(getEnv("DETECTOR_BACKEND", "dnn")),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "best.onnx")),
		ModelConfigPath:     getEnv("MODEL_CONFIG", ""),
		LabelsPath:          getEnv("LABELS_PATH", ""),
		EyeCascadePath:      getEnv("EYE_CASCADE_PATH", ""),
		PuplocPath:          getEnv("PUPLOC_PATH", ""),
		ConfidenceThreshold: getEnvAsFloat("CONF_THRESHOLD", 0.25),
		NMSThreshold:        getEnvAsFloat("NMS_THRESHOLD", 0.45),
		ModelInputSize:      getEnvAsInt("MODEL_INPUT_SIZE", 640),
		OutputDirectory:     output,
		VideoCodec:          getEnv("VIDEO_CODEC", "XVID"),
		VideoFileName:       getEnv("VIDEO_FILE", "detected_video.avi"),
		DefaultFPS:          getEnvAsFloat("DEFAULT_FPS", 30),
		CameraIndex:         getEnvAsInt("CAMERA_INDEX", 0),
		PreviewWindow:       getEnvAsBool("PREVIEW_WINDOW", hasDisplay()),
		PreviewAddr:         getEnv("PREVIEW_ADDR", ""),
		PreviewToken:        getEnv("PREVIEW_TOKEN", ""),
		DatabasePath:        getEnv("DB_PATH", filepath.Join(output, "history.db")),
		RecordFlushFrames:   getEnvAsInt("RECORD_FLUSH_FRAMES", 30),
		LogDirectory:        getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
	}
}

// hasDisplay reports whether a window can be shown. On X11/Wayland systems that
// needs DISPLAY or WAYLAND_DISPLAY; headless machines default to no preview window.
func hasDisplay() bool {
	switch runtime.GOOS {
	case "windows", "darwin":
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
