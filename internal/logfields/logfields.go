package logfields

import "log/slog"

// Canonical log field names shared across packages.
const (
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyWorker     = "worker"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeySchedule   = "schedule_name"
	KeyProject    = "project"
	KeyVersion    = "version"
	KeyBuildID    = "build_id"
	KeyBuildState = "build_state"
	KeyRepoURL    = "repo_url"
	KeyRepoType   = "repo_type"
	KeyDocType    = "doc_type"
	KeyCommand    = "command"
	KeyExitCode   = "exit_code"
	KeyPath       = "path"
	KeyLockKey    = "lock_key"
	KeyHost       = "host"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeySubject    = "subject"
	KeyUserAgent  = "user_agent"
	KeyRemoteAddr = "remote_addr"
	KeyRequestID  = "request_id"
	KeyError      = "error"
)

func JobID(id string) slog.Attr        { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr     { return slog.String(KeyJobStatus, s) }
func Worker(id string) slog.Attr       { return slog.String(KeyWorker, id) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func ScheduleName(n string) slog.Attr  { return slog.String(KeySchedule, n) }
func Project(slug string) slog.Attr    { return slog.String(KeyProject, slug) }
func Version(slug string) slog.Attr    { return slog.String(KeyVersion, slug) }
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func BuildState(s string) slog.Attr    { return slog.String(KeyBuildState, s) }
func RepoURL(u string) slog.Attr       { return slog.String(KeyRepoURL, u) }
func RepoType(t string) slog.Attr      { return slog.String(KeyRepoType, t) }
func DocType(t string) slog.Attr       { return slog.String(KeyDocType, t) }
func Command(c string) slog.Attr       { return slog.String(KeyCommand, c) }
func ExitCode(code int) slog.Attr      { return slog.Int(KeyExitCode, code) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func LockKey(k string) slog.Attr       { return slog.String(KeyLockKey, k) }
func Host(h string) slog.Attr          { return slog.String(KeyHost, h) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func Subject(s string) slog.Attr       { return slog.String(KeySubject, s) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(a string) slog.Attr    { return slog.String(KeyRemoteAddr, a) }
func RequestID(id string) slog.Attr    { return slog.String(KeyRequestID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
