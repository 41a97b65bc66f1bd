// Package config loads the recognized-option table spec §6 names
// (parallelEvaluation, concurrencyLimit, enableSMBL, interruptionHook
// is wired in code, not config) from the environment, following the
// teacher's internal/config pattern of godotenv.Load() plus getEnv*
// helpers for defaults, but validated afterwards with struct tags via
// go-playground/validator instead of the teacher's hand-rolled
// per-field checks — this repo's config surface is small enough that a
// declarative validate call replaces what the teacher does with ad hoc
// range checks scattered across Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EngineConfig tunes the parallel executor engine (C8).
type EngineConfig struct {
	// ParallelEvaluation selects the parallel engine over the
	// single-thread pull engine.
	ParallelEvaluation bool
	// ConcurrencyLimit bounds the worker pool / task-arena size.
	ConcurrencyLimit int `validate:"gte=1,lte=4096"`
	// EnableSMBL enables sparse mung-buffer-locking in the pull engine.
	EnableSMBL bool
	// LogLevel and LogFormat configure the ambient telemetry.Logger.
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text"`
}

// RuntimeConfig tunes the C10 runtime layer: page-cache backend and
// cron-driven time playback.
type RuntimeConfig struct {
	// PageCacheBackend selects "memory" or "redis".
	PageCacheBackend string `validate:"oneof=memory redis"`
	RedisAddr        string `validate:"required_if=PageCacheBackend redis"`
	RedisDB          int    `validate:"gte=0"`
	// PlaybackCronSpec, if non-empty, drives Runtime.SetTime on a cron
	// schedule (see runtime.NewCronTimePlayback).
	PlaybackCronSpec string
}

var validate = validator.New()

// LoadEngineConfig loads .env (if present; a missing file is not an
// error, matching godotenv's own convention) then reads engine tunables
// from the environment, validating the result.
func LoadEngineConfig() (EngineConfig, error) {
	_ = godotenv.Load()

	cfg := EngineConfig{
		ParallelEvaluation: getEnvAsBool("DAGCORE_PARALLEL_EVALUATION", true),
		ConcurrencyLimit:   getEnvAsInt("DAGCORE_CONCURRENCY_LIMIT", 8),
		EnableSMBL:         getEnvAsBool("DAGCORE_ENABLE_SMBL", false),
		LogLevel:           getEnv("DAGCORE_LOG_LEVEL", "info"),
		LogFormat:          getEnv("DAGCORE_LOG_FORMAT", "json"),
	}
	if err := validate.Struct(cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: invalid engine config: %w", err)
	}
	return cfg, nil
}

// LoadRuntimeConfig loads .env then reads runtime tunables from the
// environment, validating the result.
func LoadRuntimeConfig() (RuntimeConfig, error) {
	_ = godotenv.Load()

	cfg := RuntimeConfig{
		PageCacheBackend: getEnv("DAGCORE_PAGE_CACHE_BACKEND", "memory"),
		RedisAddr:        getEnv("DAGCORE_REDIS_ADDR", "localhost:6379"),
		RedisDB:          getEnvAsInt("DAGCORE_REDIS_DB", 0),
		PlaybackCronSpec: getEnv("DAGCORE_PLAYBACK_CRON", ""),
	}
	if err := validate.Struct(cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("config: invalid runtime config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
