package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the orchestrator reads from the environment.
// Durations that the original deployment expressed in seconds keep that unit
// in their env vars.
type Config struct {
	DatabaseURL string
	ListenAddr  string

	// External collaborators
	BotGatewayURL  string // notification channel
	BotToken       string
	ConferenceURL  string // conferencing provider base URL
	ConferenceKey  string // SDK key used to obtain access tokens
	JudgeAuthKey   string // base64 client credentials for the judgment provider
	JudgeOAuthURL  string
	JudgeAPIURL    string
	CallbackSecret string // shared secret the notification channel signs callbacks with

	// Handshake and delivery timing
	InvitationTimeout time.Duration
	CaseReadTime      time.Duration
	LinkFollowTime    time.Duration

	// Attendance
	AttendancePollInterval time.Duration
	AttendanceGracePeriod  time.Duration

	// Result pipeline
	RefreshCheckPeriod time.Duration
	AnalyzeTime        time.Duration
	CaptureLeadTime    time.Duration

	// Slot provisioning
	DefaultRoomCount int
	DebateTime       time.Duration
	SlotDuration     time.Duration
	SlotStarts       []DayTime
	ScheduleHourUTC  int

	Location *time.Location
}

// DayTime is a wall-clock start time in the tournament's local timezone.
type DayTime struct {
	Hour   int
	Minute int
}

// DispatchLeadTime is how far before slot start the case material goes out:
// enough to read the case and follow the room link.
func (c *Config) DispatchLeadTime() time.Duration {
	return c.CaseReadTime + c.LinkFollowTime
}

// Load reads configuration from the environment, applying the defaults the
// tournament has been run with.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":5300"),

		BotGatewayURL:  os.Getenv("BOT_GATEWAY_URL"),
		BotToken:       os.Getenv("BOT_TOKEN"),
		ConferenceURL:  getEnv("CONFERENCE_API_URL", "https://api.salutejazz.ru"),
		ConferenceKey:  os.Getenv("CONFERENCE_SDK_KEY"),
		JudgeAuthKey:   os.Getenv("JUDGE_AUTH_KEY"),
		JudgeOAuthURL:  getEnv("JUDGE_OAUTH_URL", "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"),
		JudgeAPIURL:    getEnv("JUDGE_API_URL", "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"),
		CallbackSecret: os.Getenv("CALLBACK_SECRET"),

		InvitationTimeout: getEnvSeconds("INVITATION_TIMEOUT", 600),
		CaseReadTime:      getEnvSeconds("CASE_READ_TIME", 5*60),
		LinkFollowTime:    getEnvSeconds("LINK_FOLLOW_TIME", 2*60),

		AttendancePollInterval: getEnvSeconds("ATTENDANCE_POLL_INTERVAL", 30),
		AttendanceGracePeriod:  getEnvSeconds("ATTENDANCE_GRACE_PERIOD", 2*60),

		RefreshCheckPeriod: getEnvSeconds("REFRESH_CHECK_PERIOD", 60),
		AnalyzeTime:        getEnvMinutes("ANALYZE_TIME_MINUTES", 14),
		CaptureLeadTime:    getEnvMinutes("CAPTURE_LEAD_MINUTES", 5),

		DefaultRoomCount: getEnvInt("DEFAULT_ROOM_COUNT", 8),
		DebateTime:       getEnvMinutes("DEBATE_TIME_MINUTES", 6),
		ScheduleHourUTC:  getEnvInt("SCHEDULE_HOUR_UTC", 20),
	}

	// Slot duration: debate + analysis + 2 minutes of slack unless overridden.
	if v := getEnvInt("SLOT_DURATION_MINUTES", 0); v > 0 {
		cfg.SlotDuration = time.Duration(v) * time.Minute
	} else {
		cfg.SlotDuration = cfg.DebateTime + cfg.AnalyzeTime + 2*time.Minute
	}

	starts, err := ParseDayTimes(getEnv("SLOT_START_TIMES", "17:30,17:55"))
	if err != nil {
		return nil, fmt.Errorf("invalid SLOT_START_TIMES: %w", err)
	}
	cfg.SlotStarts = starts

	tz := getEnv("TOURNAMENT_TIMEZONE", "Europe/Moscow")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TOURNAMENT_TIMEZONE %q: %w", tz, err)
	}
	cfg.Location = loc

	return cfg, nil
}

// ParseDayTimes parses a comma-separated list of hh:mm values.
func ParseDayTimes(raw string) ([]DayTime, error) {
	var out []DayTime
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hh, mm, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%q is not hh:mm", part)
		}
		hour, err := strconv.Atoi(hh)
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("%q has an invalid hour", part)
		}
		minute, err := strconv.Atoi(mm)
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("%q has an invalid minute", part)
		}
		out = append(out, DayTime{Hour: hour, Minute: minute})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no start times configured")
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func getEnvMinutes(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Minute
}
