package health

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Report is the health payload.
type Report struct {
	OK        bool   `json:"ok"`
	Database  string `json:"database"`
	Analyzing bool   `json:"analyzing"`
}

// Service encapsulates health-related checks.
type Service struct {
	DB        Pinger
	Analyzing func() bool
}

// NewService constructs a health service. db and analyzing may be nil.
func NewService(db Pinger, analyzing func() bool) *Service {
	return &Service{DB: db, Analyzing: analyzing}
}

// Status reports process health. A failed database ping marks it unhealthy;
// running without a database is healthy.
func (s *Service) Status(ctx context.Context) Report {
	r := Report{OK: true, Database: "memory"}
	if s == nil {
		return r
	}
	if s.Analyzing != nil {
		r.Analyzing = s.Analyzing()
	}
	if s.DB == nil {
		return r
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		r.OK = false
		r.Database = "unreachable"
		return r
	}
	r.Database = "ok"
	return r
}
