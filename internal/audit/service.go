package audit

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/warden-iam/warden/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// maxExportRows membatasi ukuran ekspor CSV.
	maxExportRows = 10000
)

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List mengambil entri audit terbaru lebih dulu dengan paging. Halaman dan
// total dihitung bersamaan.
func (s *Service) List(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	page, pageSize := shared.ClampPage(filters.Page, filters.PageSize, defaultPageSize, maxPageSize)
	filters.Page, filters.PageSize = page, pageSize

	var (
		entries []Entry
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.repo.List(gctx, filters, pageSize, (page-1)*pageSize)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.repo.Count(gctx, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Result{Entries: entries, Pagination: shared.NewPagination(page, pageSize, total)}, nil
}

// Export mengambil seluruh entri yang cocok tanpa paging, dibatasi maxExportRows.
func (s *Service) Export(ctx context.Context, filters Filters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.List(ctx, filters, maxExportRows, 0)
}
