package scenario

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/deixis/talkcheck/internal/config"
	"github.com/deixis/talkcheck/internal/metrics"
	"github.com/deixis/talkcheck/internal/proc"
	"github.com/deixis/talkcheck/internal/watch"
)

// NewController returns a controller for the programs cfg names. Relative
// program paths are taken from root, which is also where they run.
func NewController(cfg *config.Config, root string, log *zap.Logger) (*proc.Controller, error) {
	ack, err := cfg.AckPolicy()
	if err != nil {
		return nil, err
	}
	return &proc.Controller{
		Receiver:       []string{resolve(root, cfg.ReceiverPath())},
		Sender:         []string{resolve(root, cfg.SenderPath())},
		Dir:            root,
		StartupTimeout: cfg.StartupTimeout(),
		AckTimeout:     cfg.AckTimeout(),
		StopTimeout:    cfg.StopTimeout(),
		ProcessGroup:   cfg.UseProcessGroup(),
		MaxOutput:      cfg.MaxOutputBytes(),
		Ack:            ack,
		Logger:         log,
	}, nil
}

// New returns a Runner driving the programs cfg names.
func New(cfg *config.Config, root string, m *metrics.Recorder, log *zap.Logger) (*Runner, error) {
	ctrl, err := NewController(cfg, root, log)
	if err != nil {
		return nil, err
	}
	return &Runner{
		Driver: ctrl,
		Watcher: watch.Watcher{
			Timeout:   cfg.ObserveTimeout(),
			StripANSI: cfg.UseStripANSI(),
		},
		LatencyBudget: cfg.LatencyBudget(),
		Metrics:       m,
		Logger:        log,
	}, nil
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
