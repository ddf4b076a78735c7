package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Coach  CoachConfig
	Phrase PhraseConfig
	Lesson LessonConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	coach, err := loadCoachConfig()
	if err != nil {
		return nil, err
	}

	phrase, err := loadPhraseConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Coach:  coach,
		Phrase: phrase,
		Lesson: LessonConfig{File: strings.TrimSpace(os.Getenv("LESSON_FILE"))},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// CoachConfig 描述实时教练会话配置。
type CoachConfig struct {
	APIKey            string
	LiveURL           string
	Model             string
	Voice             string
	SystemInstruction string
	InputRate         int
	OutputRate        int
	FrameSamples      int
	SendQueue         int
	Timeout           time.Duration
}

// Enabled 表示是否配置了服务端密钥；未配置时用户必须自带密钥。
func (c CoachConfig) Enabled() bool {
	return c.APIKey != ""
}

// PhraseConfig 描述短语合成配置。
type PhraseConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Timeout time.Duration
}

// LessonConfig 课程内容来源，File 为空时使用内置课程。
type LessonConfig struct {
	File string
}

func loadCoachConfig() (CoachConfig, error) {
	inputRate, err := parseIntEnv("COACH_INPUT_RATE", 16000)
	if err != nil {
		return CoachConfig{}, err
	}

	outputRate, err := parseIntEnv("COACH_OUTPUT_RATE", 24000)
	if err != nil {
		return CoachConfig{}, err
	}

	frameSamples, err := parseIntEnv("COACH_FRAME_SAMPLES", 4096)
	if err != nil {
		return CoachConfig{}, err
	}

	sendQueue, err := parseIntEnv("COACH_SEND_QUEUE", 32)
	if err != nil {
		return CoachConfig{}, err
	}

	timeout, err := parseSecondsEnv("COACH_TIMEOUT", 30*time.Second)
	if err != nil {
		return CoachConfig{}, err
	}

	for key, value := range map[string]int{
		"COACH_INPUT_RATE":    inputRate,
		"COACH_OUTPUT_RATE":   outputRate,
		"COACH_FRAME_SAMPLES": frameSamples,
		"COACH_SEND_QUEUE":    sendQueue,
	} {
		if value <= 0 {
			return CoachConfig{}, fmt.Errorf("invalid %s value %d: must be positive", key, value)
		}
	}

	return CoachConfig{
		APIKey:            apiKey(),
		LiveURL:           getEnvOrDefault("COACH_LIVE_URL", ""),
		Model:             getEnvOrDefault("COACH_MODEL", "gemini-2.5-flash-native-audio-preview-12-2025"),
		Voice:             getEnvOrDefault("COACH_VOICE", "Zephyr"),
		SystemInstruction: getEnvOrDefault("COACH_SYSTEM_INSTRUCTION", "You are an expert American English accent coach helping Hassan."),
		InputRate:         inputRate,
		OutputRate:        outputRate,
		FrameSamples:      frameSamples,
		SendQueue:         sendQueue,
		Timeout:           timeout,
	}, nil
}

func loadPhraseConfig() (PhraseConfig, error) {
	timeout, err := parseSecondsEnv("PHRASE_TIMEOUT", 30*time.Second)
	if err != nil {
		return PhraseConfig{}, err
	}

	return PhraseConfig{
		APIKey:  apiKey(),
		BaseURL: getEnvOrDefault("PHRASE_BASE_URL", ""),
		Model:   getEnvOrDefault("PHRASE_MODEL", "gemini-2.5-flash-preview-tts"),
		Voice:   getEnvOrDefault("PHRASE_VOICE", "Kore"),
		Timeout: timeout,
	}, nil
}

// apiKey 优先 GEMINI_API_KEY，兼容 API_KEY
func apiKey() string {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv("API_KEY"))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseSecondsEnv 接受纯数字秒数或 time.ParseDuration 格式
func parseSecondsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, value)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, value)
	}
	return d, nil
}
