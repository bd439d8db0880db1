package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var profilesYAML []byte

type Config struct {
	Profile  string
	Engine   EngineConfig
	Store    StoreConfig
	Matching MatchingConfig
	Liveness LivenessConfig
	Live     LiveConfig
	Web      WebConfig
	Database DatabaseConfig
	Roster   RosterConfig
}

type EngineConfig struct {
	URL            string        // face inference sidecar base URL (e.g., http://localhost:18081)
	Timeout        time.Duration // per-request bound for sidecar calls
	CascadePath    string        // binary Viola-Jones cascade for the fallback detector
	CascadeMinSize int           // smallest face edge the cascade considers, in pixels
}

type StoreConfig struct {
	Root       string // embedding and crop tree root (default ./data)
	MaxSamples int    // FIFO cap per (identity, view) slot
}

type MatchingConfig struct {
	Threshold       float32 // cosine similarity accept threshold
	MinDetScore     float32 // detector confidence floor
	ScanBlur        float64 // Laplacian variance floor for scans
	RegisterBlur    float64 // stricter floor for reference captures
	RequireLiveness bool    // hard-fail scans and registrations on liveness
	CooldownMinutes int     // per (identity, session key) re-mark window
	TopK            int     // neighbors in the scan debug block
}

type LivenessConfig struct {
	MinScore       float64 // single-frame liveness pass floor
	ChallengeShift float64 // nose-ratio displacement for head-turn flags
}

type LiveConfig struct {
	VotesToConfirm int           // consistent votes before a track is identified
	RecognizeEvery int           // run recognition every Nth frame per track
	MarkCooldown   time.Duration // per-identity re-mark suppression in a session
	IdleTTL        time.Duration // sessions without frames expire after this
}

type WebConfig struct {
	Host   string
	Port   int
	APIKey string // empty leaves the API open (localhost kiosk setups)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RosterConfig struct {
	DSN string // MariaDB DSN for the campus SIS (e.g., sis:sis@tcp(mariadb:3306)/campus)
}

// Profile is one embedded calibration preset.
type Profile struct {
	Threshold       float32 `yaml:"threshold"`
	MinDetScore     float32 `yaml:"min_det_score"`
	ScanBlur        float64 `yaml:"scan_blur"`
	RegisterBlur    float64 `yaml:"register_blur"`
	LivenessMin     float64 `yaml:"liveness_min_score"`
	ChallengeShift  float64 `yaml:"challenge_shift"`
	RequireLiveness bool    `yaml:"require_liveness"`
}

type profilesFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// envString reads an environment variable, falling back to a default when
// unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a positive float64.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envFloat32 reads an environment variable as a positive float32.
func envFloat32(key string, defaultVal float32) float32 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil && f > 0 {
		return float32(f)
	}
	return defaultVal
}

// envBool reads an environment variable as a bool ("true", "1", "false", "0").
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration string.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// Load reads configuration from the environment. ROLLCALL_PROFILE selects a
// calibration preset; individual variables override single values from it.
func Load() (*Config, error) {
	var file profilesFile
	if err := yaml.Unmarshal(profilesYAML, &file); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded profiles.yaml: " + err.Error())
	}

	name := envString("ROLLCALL_PROFILE", "default")
	profile, ok := file.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown calibration profile %q", name)
	}

	return &Config{
		Profile: name,
		Engine: EngineConfig{
			URL:            os.Getenv("FACE_ENGINE_URL"),
			Timeout:        envDuration("FACE_ENGINE_TIMEOUT", 30*time.Second),
			CascadePath:    os.Getenv("CASCADE_PATH"),
			CascadeMinSize: envInt("CASCADE_MIN_SIZE", 70),
		},
		Store: StoreConfig{
			Root:       envString("ROLLCALL_DATA_DIR", "data"),
			MaxSamples: envInt("ROLLCALL_MAX_SAMPLES", 8),
		},
		Matching: MatchingConfig{
			Threshold:       envFloat32("ROLLCALL_THRESHOLD", profile.Threshold),
			MinDetScore:     envFloat32("ROLLCALL_MIN_DET_SCORE", profile.MinDetScore),
			ScanBlur:        envFloat("ROLLCALL_SCAN_BLUR", profile.ScanBlur),
			RegisterBlur:    envFloat("ROLLCALL_REGISTER_BLUR", profile.RegisterBlur),
			RequireLiveness: envBool("ROLLCALL_REQUIRE_LIVENESS", profile.RequireLiveness),
			CooldownMinutes: envInt("ROLLCALL_COOLDOWN_MINUTES", 5),
			TopK:            envInt("ROLLCALL_TOP_K", 3),
		},
		Liveness: LivenessConfig{
			MinScore:       envFloat("ROLLCALL_LIVENESS_MIN_SCORE", profile.LivenessMin),
			ChallengeShift: envFloat("ROLLCALL_CHALLENGE_SHIFT", profile.ChallengeShift),
		},
		Live: LiveConfig{
			VotesToConfirm: envInt("ROLLCALL_VOTES_TO_CONFIRM", 2),
			RecognizeEvery: envInt("ROLLCALL_RECOGNIZE_EVERY", 3),
			MarkCooldown:   envDuration("ROLLCALL_MARK_COOLDOWN", 30*time.Second),
			IdleTTL:        envDuration("ROLLCALL_IDLE_TTL", 2*time.Minute),
		},
		Web: WebConfig{
			Host:   envString("ROLLCALL_HOST", "127.0.0.1"),
			Port:   envInt("ROLLCALL_PORT", 8077),
			APIKey: os.Getenv("ROLLCALL_API_KEY"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Roster: RosterConfig{
			DSN: os.Getenv("SIS_DATABASE_URL"),
		},
	}, nil
}
