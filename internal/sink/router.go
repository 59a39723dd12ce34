package sink

import (
	"context"
	"fmt"
	"sort"

	"tablesync/internal/domain"
	"tablesync/internal/models"
)

// Router dispatches each call to the sink registered for the ref's kind.
type Router struct {
	sinks map[string]domain.DocumentSink
}

func NewRouter() *Router {
	return &Router{sinks: make(map[string]domain.DocumentSink)}
}

// Register binds kind to s. Registering the same kind twice replaces it.
func (r *Router) Register(kind string, s domain.DocumentSink) {
	r.sinks[kind] = s
}

func (r *Router) Kinds() []string {
	kinds := make([]string, 0, len(r.sinks))
	for k := range r.sinks {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (r *Router) resolve(ref models.SheetRef) (domain.DocumentSink, error) {
	s, ok := r.sinks[ref.Kind]
	if !ok {
		return nil, domain.NewConfigurationError("", fmt.Sprintf("no sink registered for kind %q", ref.Kind), nil)
	}
	return s, nil
}

func (r *Router) GetFieldTypes(ctx context.Context, ref models.SheetRef) (map[string]models.FieldType, error) {
	s, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}
	return s.GetFieldTypes(ctx, ref)
}

func (r *Router) Clear(ctx context.Context, ref models.SheetRef) error {
	s, err := r.resolve(ref)
	if err != nil {
		return err
	}
	return s.Clear(ctx, ref)
}

func (r *Router) Write(ctx context.Context, ref models.SheetRef, records []*models.Record) error {
	s, err := r.resolve(ref)
	if err != nil {
		return err
	}
	return s.Write(ctx, ref, records)
}

func (r *Router) Append(ctx context.Context, ref models.SheetRef, records []*models.Record) error {
	s, err := r.resolve(ref)
	if err != nil {
		return err
	}
	return s.Append(ctx, ref, records)
}
