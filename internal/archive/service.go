package archive

import (
	"context"

	"codeberg.org/mutker/serverpop/internal/errors"
	"codeberg.org/mutker/serverpop/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopArchiver struct{}

func NewService(cfg Config, log logger.Logger) (Archiver, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If the archive is disabled, return a no-op archiver
	if !cfg.Enabled {
		log.Debug().Msg("Archive disabled, using no-op archiver")
		return &noopArchiver{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create archive repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Bool("enabled", cfg.Enabled).
		Msg("Archive service initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, rec *CycleRecord) error {
	errFactory := errors.New()

	if rec == nil {
		return errFactory.New(ErrInvalidRecord)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		return s.repo.Record(ctx, rec)
	}
}

func (s *service) Close() error {
	return s.repo.Close()
}

func (*noopArchiver) Record(_ context.Context, _ *CycleRecord) error {
	return nil
}

func (*noopArchiver) Close() error {
	return nil
}
