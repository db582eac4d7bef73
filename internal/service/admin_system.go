package service

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/veo3pk/studio/internal/repository"
)

// AdminSystemService summarizes host and workload state for the admin dashboard.
type AdminSystemService interface {
	SystemStatus(ctx context.Context) (AdminSystemStatus, error)
}

// NotificationQueueStats exposes the email backlog without importing async.
type NotificationQueueStats interface {
	PendingEmails() int
	DroppedEmails() int
}

// HostStatFetcher reads host metrics; tests swap in fakes.
type HostStatFetcher struct {
	CPUPercent    func(interval time.Duration, percpu bool) ([]float64, error)
	VirtualMemory func() (*mem.VirtualMemoryStat, error)
	DiskUsage     func(path string) (*disk.UsageStat, error)
	LoadAvg       func() (*load.AvgStat, error)
	HostUptime    func() (uint64, error)
}

// DefaultHostStatFetcher reads the local machine through gopsutil.
func DefaultHostStatFetcher() HostStatFetcher {
	return HostStatFetcher{
		CPUPercent:    cpu.Percent,
		VirtualMemory: mem.VirtualMemory,
		DiskUsage:     disk.Usage,
		LoadAvg:       load.Avg,
		HostUptime:    host.Uptime,
	}
}

// AdminSystemOptions injects runtime dependencies.
type AdminSystemOptions struct {
	Version           string
	Environment       string
	StartedAt         time.Time
	DataDir           string
	NotificationQueue NotificationQueueStats
	Store             repository.Store
	Tokens            TokenPoolService
	Fetcher           *HostStatFetcher
	Now               func() time.Time
	HostnameResolver  func() (string, error)
}

type adminSystemService struct {
	version     string
	environment string
	startedAt   time.Time
	dataDir     string
	notifier    NotificationQueueStats
	users       repository.UserRepository
	history     repository.HistoryRepository
	tokens      TokenPoolService
	fetcher     HostStatFetcher
	now         func() time.Time
	hostname    func() (string, error)
}

// AdminSystemStatus is the admin status payload.
type AdminSystemStatus struct {
	Version       string                 `json:"version"`
	GoVersion     string                 `json:"go_version"`
	Environment   string                 `json:"environment"`
	Hostname      string                 `json:"hostname"`
	StartedAt     time.Time              `json:"started_at"`
	Uptime        int64                  `json:"uptime"`
	Goroutines    int                    `json:"goroutines"`
	UserCount     int64                  `json:"user_count"`
	Processing    int64                  `json:"processing_generations"`
	PendingEmails int                    `json:"pending_emails"`
	DroppedEmails int                    `json:"dropped_emails"`
	Pools         []repository.PoolStats `json:"pools"`
	Host          HostStats              `json:"host"`
}

// HostStats is a point-in-time machine snapshot; zero values mean unavailable.
type HostStats struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemTotal    uint64  `json:"mem_total"`
	MemUsed     uint64  `json:"mem_used"`
	DiskTotal   uint64  `json:"disk_total"`
	DiskUsed    uint64  `json:"disk_used"`
	Load1       float64 `json:"load1"`
	Load5       float64 `json:"load5"`
	Load15      float64 `json:"load15"`
	HostUptime  uint64  `json:"host_uptime"`
	NumCPU      int     `json:"num_cpu"`
	MemoryInUse uint64  `json:"go_memory_in_use"`
}

func NewAdminSystemService(opts AdminSystemOptions) AdminSystemService {
	startedAt := opts.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	hostResolver := opts.HostnameResolver
	if hostResolver == nil {
		hostResolver = os.Hostname
	}
	fetcher := DefaultHostStatFetcher()
	if opts.Fetcher != nil {
		fetcher = *opts.Fetcher
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = "/"
	}
	svc := &adminSystemService{
		version:     fallbackString(opts.Version, "dev"),
		environment: fallbackString(opts.Environment, "production"),
		startedAt:   startedAt,
		dataDir:     dataDir,
		notifier:    opts.NotificationQueue,
		tokens:      opts.Tokens,
		fetcher:     fetcher,
		now:         nowFn,
		hostname:    hostResolver,
	}
	if opts.Store != nil {
		svc.users = opts.Store.Users()
		svc.history = opts.Store.History()
	}
	return svc
}

func (s *adminSystemService) SystemStatus(ctx context.Context) (AdminSystemStatus, error) {
	hostname, _ := s.hostname()
	uptime := s.now().UTC().Unix() - s.startedAt.Unix()
	if uptime < 0 {
		uptime = 0
	}
	status := AdminSystemStatus{
		Version:     s.version,
		GoVersion:   runtime.Version(),
		Environment: s.environment,
		Hostname:    hostname,
		StartedAt:   s.startedAt,
		Uptime:      uptime,
		Goroutines:  runtime.NumGoroutine(),
		Host:        s.collectHost(),
	}

	if s.users != nil {
		count, err := s.users.Count(ctx, repository.UserSearchFilter{})
		if err != nil {
			return AdminSystemStatus{}, err
		}
		status.UserCount = count
	}
	if s.history != nil {
		count, err := s.history.Count(ctx, repository.HistoryFilter{Status: repository.StatusProcessing, IncludeDeleted: true})
		if err != nil {
			return AdminSystemStatus{}, err
		}
		status.Processing = count
	}
	if s.tokens != nil {
		pools, err := s.tokens.Stats(ctx)
		if err != nil {
			return AdminSystemStatus{}, err
		}
		status.Pools = pools
	}
	if s.notifier != nil {
		status.PendingEmails = s.notifier.PendingEmails()
		status.DroppedEmails = s.notifier.DroppedEmails()
	}
	return status, nil
}

func (s *adminSystemService) collectHost() HostStats {
	var stat HostStats
	stat.NumCPU = runtime.NumCPU()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stat.MemoryInUse = ms.Alloc

	if s.fetcher.CPUPercent != nil {
		if percents, err := s.fetcher.CPUPercent(0, false); err == nil && len(percents) > 0 {
			stat.CPUPercent = percents[0]
		}
	}
	if s.fetcher.VirtualMemory != nil {
		if v, err := s.fetcher.VirtualMemory(); err == nil {
			stat.MemTotal, stat.MemUsed = v.Total, v.Used
		}
	}
	if s.fetcher.DiskUsage != nil {
		if d, err := s.fetcher.DiskUsage(s.dataDir); err == nil {
			stat.DiskTotal, stat.DiskUsed = d.Total, d.Used
		}
	}
	if s.fetcher.LoadAvg != nil {
		if l, err := s.fetcher.LoadAvg(); err == nil {
			stat.Load1, stat.Load5, stat.Load15 = l.Load1, l.Load5, l.Load15
		}
	}
	if s.fetcher.HostUptime != nil {
		if u, err := s.fetcher.HostUptime(); err == nil {
			stat.HostUptime = u
		}
	}
	return stat
}

func fallbackString(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
