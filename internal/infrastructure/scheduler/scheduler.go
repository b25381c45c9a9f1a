package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Scheduler runs jobs in-process on standard 5-field cron expressions.
type Scheduler struct {
	cron   *cron.Cron
	logger Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger Logger, opts ...cron.Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	opts = append([]cron.Option{cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))}, opts...)
	return &Scheduler{
		cron:   cron.New(opts...),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) AddJob(spec, name string, job func(context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Infof("=== Triggered scheduled %s ===", name)
		if err := job(s.ctx); err != nil {
			s.logger.Errorf("Scheduled %s failed: %v", name, err)
		}
	})
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels in-flight jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
}
