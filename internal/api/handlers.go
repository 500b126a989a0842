package api

import (
	"context"
	"sync"

	"github.com/ignite/leadgen-site/internal/config"
	"github.com/ignite/leadgen-site/internal/datanorm"
	"github.com/ignite/leadgen-site/internal/marketplace"
	"github.com/ignite/leadgen-site/internal/storage"
)

// Ingester turns an uploaded spreadsheet into stored pricing rows.
type Ingester interface {
	Ingest(ctx context.Context, filename string, data []byte) (*datanorm.IngestReport, error)
}

// CatalogReader lists the stored pricing catalog.
type CatalogReader interface {
	ListPricing(ctx context.Context) (*storage.Catalog, error)
}

// UploadArchiver keeps a copy of accepted uploads.
type UploadArchiver interface {
	Archive(ctx context.Context, filename string, data []byte, uploadedBy string) (string, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	config      *config.Config
	ingester    Ingester
	catalog     CatalogReader
	archiver    UploadArchiver
	marketplace *marketplace.Service

	// background archive uploads
	bg sync.WaitGroup
}

// NewHandlers creates a new Handlers instance. archiver may be nil.
func NewHandlers(cfg *config.Config, ingester Ingester, catalog CatalogReader, archiver UploadArchiver, svc *marketplace.Service) *Handlers {
	return &Handlers{
		config:      cfg,
		ingester:    ingester,
		catalog:     catalog,
		archiver:    archiver,
		marketplace: svc,
	}
}

// Wait blocks until background work started by handlers has finished.
func (h *Handlers) Wait() {
	h.bg.Wait()
	if h.marketplace != nil {
		h.marketplace.Wait()
	}
}
