package polygons

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/cobrun/geofence/errors"
	"github.com/cobrun/geofence/geo"
	"github.com/cobrun/geofence/logging"
	"github.com/cobrun/geofence/validation"
)

// ServiceConfig holds the service's collaborators.
type ServiceConfig struct {
	Store     Store
	Validator *Validator
	Audit     *logging.Audit
	Logger    *logging.Logger
}

// Service validates candidates against the stored corpus and persists the
// accepted ones. Writes are serialized so that two overlapping candidates
// cannot both be accepted by the same process.
type Service struct {
	store     Store
	validator *Validator
	audit     *logging.Audit
	logger    *logging.Logger
	newID     func() string
	mu        sync.Mutex
}

// NewService creates a polygon service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	validator := cfg.Validator
	if validator == nil {
		validator = NewValidator(ValidatorConfig{Logger: logger})
	}
	audit := cfg.Audit
	if audit == nil {
		audit = logging.NewAudit(logger, "", "")
	}
	return &Service{
		store:     cfg.Store,
		validator: validator,
		audit:     audit,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Validate checks a candidate against the current store contents without
// persisting it. A non-empty id excludes the stored polygon with that id.
func (s *Service) Validate(ctx context.Context, name, id string, src geo.Source) (*Result, error) {
	name = strings.TrimSpace(name)
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}
	return s.check(ctx, id, name, src)
}

// Create validates a new polygon and stores it when valid. Rejections return
// the Result together with its AppError.
func (s *Service) Create(ctx context.Context, name string, src geo.Source) (*Record, *Result, error) {
	name = strings.TrimSpace(name)
	if err := validation.ValidateName(name); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	res, err := s.check(ctx, id, name, src)
	if err != nil {
		return nil, nil, err
	}
	if !res.Valid {
		s.auditRejection(ctx, "", name, res)
		return nil, res, res.Err
	}

	rec, err := s.persist(ctx, id, name, res.Polygon)
	if err != nil {
		return nil, nil, err
	}
	s.audit.Record(ctx, logging.PolygonEvent{
		Action:              logging.ActionCreated,
		ID:                  rec.ID,
		Name:                rec.Name,
		CrossesAntimeridian: rec.CrossesAntimeridian,
		Skipped:             len(res.Skipped),
	})
	return rec, res, nil
}

// Update replaces the geometry and name of a stored polygon. The stored
// version is excluded from the overlap check.
func (s *Service) Update(ctx context.Context, id, name string, src geo.Source) (*Record, *Result, error) {
	name = strings.TrimSpace(name)
	if err := validation.ValidateName(name); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, nil, err
	}

	res, err := s.check(ctx, id, name, src)
	if err != nil {
		return nil, nil, err
	}
	if !res.Valid {
		s.auditRejection(ctx, id, name, res)
		return nil, res, res.Err
	}

	rec, err := s.persist(ctx, id, name, res.Polygon)
	if err != nil {
		return nil, nil, err
	}
	s.audit.Record(ctx, logging.PolygonEvent{
		Action:              logging.ActionUpdated,
		ID:                  rec.ID,
		Name:                rec.Name,
		CrossesAntimeridian: rec.CrossesAntimeridian,
		Skipped:             len(res.Skipped),
	})
	return rec, res, nil
}

// Get returns a stored polygon.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// List returns all stored polygons.
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	return s.store.List(ctx)
}

// Locate returns the stored polygons whose interior contains c, in store
// order. Records whose geometry no longer decodes are skipped.
func (s *Service) Locate(ctx context.Context, c geo.Coordinate) ([]*Record, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []*Record
	for _, rec := range records {
		ring, err := rec.Ring()
		if err != nil {
			s.logger.WithPolygon(rec.Name, rec.ID).WarnContext(ctx, "skipping undecodable stored polygon", "error", err.Error())
			continue
		}
		p := geo.Polygon{ID: rec.ID, Name: rec.Name, Ring: ring}
		if p.Contains(c) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Delete removes a stored polygon.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, logging.PolygonEvent{Action: logging.ActionDeleted, ID: rec.ID, Name: rec.Name})
	return nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) check(ctx context.Context, id, name string, src geo.Source) (*Result, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(ctx, Request{
		Name:      name,
		ID:        id,
		Source:    src,
		Corpus:    Corpus(records),
		ExcludeID: id,
	})
}

func (s *Service) persist(ctx context.Context, id, name string, p *geo.Polygon) (*Record, error) {
	text, err := geo.EncodeEWKT(p.Ring, geo.DefaultSRID)
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to encode polygon")
	}
	rec := &Record{
		ID:                  id,
		Name:                name,
		Geometry:            text,
		CrossesAntimeridian: p.CrossesAntimeridian,
	}
	if err := s.store.Put(ctx, rec); err != nil {
		s.logger.WithPolygon(name, id).WithError(err).ErrorContext(ctx, "failed to store polygon")
		return nil, err
	}
	return rec, nil
}

func (s *Service) auditRejection(ctx context.Context, id, name string, res *Result) {
	ev := logging.PolygonEvent{
		Action: logging.ActionRejected,
		ID:     id,
		Name:   name,
		Reason: string(res.Reason),
		Stage:  res.Stage.String(),
	}
	for _, rec := range res.Intersections {
		ev.Conflicts = append(ev.Conflicts, rec.ID)
	}
	s.audit.Record(ctx, ev)
}
