// Command coreruntime is the cognitive runtime's process entrypoint:
// it reads environment configuration, constructs a Runtime, replays
// the operation log, and runs until signaled to shut down.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nmxmxh/coreruntime/runtime"
)

// Exit codes per the process's external-interface contract.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitReplayError    = 2
	exitStartupError   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load() // optional .env; absence is not an error

	log, err := zap.NewProduction()
	if err != nil {
		return exitConfigError
	}
	defer log.Sync()

	cfg := runtime.DefaultConfig()
	if v, ok := os.LookupEnv("MAX_TOKENS"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			log.Error("invalid MAX_TOKENS", zap.Error(err))
			return exitConfigError
		}
		cfg.GuardianLimits.MaxTokens = uint32(n)
	}
	if v, ok := os.LookupEnv("MAX_CONNECTIONS"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			log.Error("invalid MAX_CONNECTIONS", zap.Error(err))
			return exitConfigError
		}
		cfg.GuardianLimits.MaxConnections = uint32(n)
	}
	if v, ok := os.LookupEnv("MAX_MEMORY_BYTES"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Error("invalid MAX_MEMORY_BYTES", zap.Error(err))
			return exitConfigError
		}
		cfg.GuardianLimits.MaxMemoryBytes = n
	}
	if v, ok := os.LookupEnv("LOG_PATH"); ok {
		cfg.LogPath = v
	}
	var cdnaProfileID uint32
	var haveCDNAProfile bool
	if v, ok := os.LookupEnv("CDNA_PROFILE_ID"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			log.Error("invalid CDNA_PROFILE_ID", zap.Error(err))
			return exitConfigError
		}
		cdnaProfileID, haveCDNAProfile = uint32(n), true
	}
	var traceSampleRate float64
	var haveTraceSampleRate bool
	if v, ok := os.LookupEnv("TRACE_SAMPLE_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Error("invalid TRACE_SAMPLE_RATE", zap.Error(err))
			return exitConfigError
		}
		traceSampleRate, haveTraceSampleRate = f, true
	}

	rt, err := runtime.New(cfg, log)
	if err != nil {
		log.Error("runtime construction failed", zap.Error(err))
		return exitStartupError
	}
	if haveCDNAProfile {
		if err := rt.Store.SetProfile(cdnaProfileID); err != nil {
			log.Error("invalid CDNA profile", zap.Error(err))
			return exitConfigError
		}
	}
	if haveTraceSampleRate {
		if err := rt.Store.SetTraceSampleRate(float32(traceSampleRate)); err != nil {
			log.Error("invalid trace sample rate", zap.Error(err))
			return exitConfigError
		}
	}

	lastGood, err := rt.Replay()
	if err != nil {
		log.Error("log replay halted short of end of file", zap.Error(err), zap.Uint64("last_good_sequence", lastGood))
		return exitReplayError
	}
	log.Info("log replay complete", zap.Uint64("last_good_sequence", lastGood))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)
	log.Info("coreruntime started", zap.Int("token_count", rt.Store.CountTokens()))

	<-ctx.Done()
	log.Info("shutdown signal received")
	if err := rt.Shutdown(10 * time.Second); err != nil {
		log.Error("shutdown error", zap.Error(err))
		return exitStartupError
	}
	return exitOK
}
