// Package sessionlog creates and owns the gateway's per-run log directory:
// a session ID, a main/error log pair, and the session_info.json manifest
// that indexes every log file in the session, including runner logs
// created lazily as each runner starts.
package sessionlog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const logDirEnvVar = "FLEXLLAMA_LOG_DIR"

// Session owns one run's log directory and its manifest.
type Session struct {
	ID  string
	Dir string

	mu        sync.Mutex
	logIndex  map[string]string
	infoPath  string
	startedAt time.Time
}

type sessionInfo struct {
	SessionID string            `json:"session_id"`
	StartedAt string            `json:"started_at"`
	ConfigPath string           `json:"config_path"`
	Platform  string            `json:"platform"`
	LogFiles  map[string]string `json:"log_files"`
}

// New resolves the log base directory, creates the session directory tree,
// and writes the initial session_info.json manifest (main.log and
// errors.log only; runner logs are added via RunnerLogPath followed by
// RefreshManifest).
func New(log *logrus.Entry, configPath string) (*Session, error) {
	base := resolveBaseDir(log)

	id := newSessionID()
	dir := filepath.Join(base, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create session directory %s: %w", dir, err)
	}

	s := &Session{
		ID:  id,
		Dir: dir,
		logIndex: map[string]string{
			"main":   "main.log",
			"errors": "errors.log",
		},
		infoPath:  filepath.Join(dir, "session_info.json"),
		startedAt: time.Now().UTC(),
	}
	if err := s.writeManifest(configPath); err != nil {
		return nil, err
	}
	log.Infof("session log directory: %s", dir)
	return s, nil
}

// resolveBaseDir honors FLEXLLAMA_LOG_DIR, defaulting to ./logs; if that
// base isn't writable it falls back to a per-user directory under the
// system temp dir.
func resolveBaseDir(log *logrus.Entry) string {
	base := os.Getenv(logDirEnvVar)
	if base == "" {
		base = "./logs"
	}
	if err := os.MkdirAll(base, 0o755); err == nil {
		return base
	}

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}
	fallback := filepath.Join(os.TempDir(), fmt.Sprintf("flexllama_logs_%s", user))
	log.Warnf("log directory %q is not writable, falling back to %s", base, fallback)
	return fallback
}

// newSessionID combines a UTC timestamp with an 8-hex-character suffix
// drawn from ulid's default monotonic source, for a sortable yet
// collision-resistant identifier.
func newSessionID() string {
	id := ulid.Make()
	suffix := hex.EncodeToString(id[12:])
	return fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102T150405Z"), suffix)
}

// MainLogPath and ErrorLogPath return the fixed paths for the session's two
// always-present log streams.
func (s *Session) MainLogPath() string  { return filepath.Join(s.Dir, "main.log") }
func (s *Session) ErrorLogPath() string { return filepath.Join(s.Dir, "errors.log") }

// RunnerLogPath returns the path a runner's append-only log file should use;
// it also adds the file to the log index, which the next RefreshManifest
// writes to session_info.json.
func (s *Session) RunnerLogPath(runnerName string) string {
	rel := runnerName + ".log"
	s.mu.Lock()
	s.logIndex[runnerName] = rel
	s.mu.Unlock()
	return filepath.Join(s.Dir, rel)
}

func (s *Session) writeManifest(configPath string) error {
	s.mu.Lock()
	index := make(map[string]string, len(s.logIndex))
	for k, v := range s.logIndex {
		index[k] = v
	}
	s.mu.Unlock()

	info := sessionInfo{
		SessionID:  s.ID,
		StartedAt:  s.startedAt.Format(time.RFC3339),
		ConfigPath: configPath,
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		LogFiles:   index,
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to marshal session manifest: %w", err)
	}
	if err := os.WriteFile(s.infoPath, data, 0o644); err != nil {
		return fmt.Errorf("unable to write session manifest %s: %w", s.infoPath, err)
	}
	return nil
}

// RefreshManifest rewrites session_info.json with the current log index;
// call it after new runner logs are registered so the manifest stays
// current for a human inspecting the directory mid-run.
func (s *Session) RefreshManifest(configPath string) error {
	return s.writeManifest(configPath)
}
