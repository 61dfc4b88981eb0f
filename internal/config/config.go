package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DBPath             string
	ProgramID          string
	KeypairPath        string
	PostFee            uint64
	CommentFee         uint64
	MaxUpvote          uint64
	OneVotePerIdentity bool
	TxMaxAge           time.Duration
	RateLimits         RateLimits
	Redis              Redis
	MetricsAddr        string
}

type RateLimits struct {
	PostPerMinute    int
	CommentPerMinute int
	VotePerMinute    int
}

type Redis struct {
	Addr     string
	Password string
	TTL      time.Duration
}

func Load() Config {
	cfg := Config{
		DBPath:             envString("SENDDIT_DB", "senddit.db"),
		ProgramID:          envString("SENDDIT_PROGRAM_ID", ""),
		KeypairPath:        envString("SENDDIT_KEYPAIR", "senddit-key.pem"),
		PostFee:            envUint("SENDDIT_POST_FEE", 1_000_000),
		CommentFee:         envUint("SENDDIT_COMMENT_FEE", 1_000_000),
		MaxUpvote:          envUint("SENDDIT_MAX_UPVOTE", 0),
		OneVotePerIdentity: envBool("SENDDIT_ONE_VOTE_PER_IDENTITY", false),
		TxMaxAge:           envDuration("SENDDIT_TX_MAX_AGE", 2*time.Minute),
		RateLimits: RateLimits{
			PostPerMinute:    envInt("SENDDIT_RL_POST_PER_MIN", 10),
			CommentPerMinute: envInt("SENDDIT_RL_COMMENT_PER_MIN", 30),
			VotePerMinute:    envInt("SENDDIT_RL_VOTE_PER_MIN", 120),
		},
		Redis: Redis{
			Addr:     envString("SENDDIT_REDIS_ADDR", ""),
			Password: envString("SENDDIT_REDIS_PASSWORD", ""),
			TTL:      envDuration("SENDDIT_CACHE_TTL", time.Minute),
		},
		MetricsAddr: envString("SENDDIT_METRICS_ADDR", ""),
	}

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
