// preview.go — кэш подписанных preview-ссылок.
// Ссылки выпускаются backend с ограниченным сроком действия, поэтому
// кэш с TTL короче срока подписи: истёкшая запись вытесняется и
// ссылка перезапрашивается. Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша preview-ссылок.
var (
	previewCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "um_preview_cache_hits_total",
		Help: "Общее количество попаданий в кэш preview-ссылок.",
	})
	previewCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "um_preview_cache_misses_total",
		Help: "Общее количество промахов кэша preview-ссылок.",
	})
)

// PreviewURLFetcher — источник подписанных ссылок (apiclient.Client.PreviewURL).
type PreviewURLFetcher func(ctx context.Context, filePath string) (string, error)

// PreviewService — кэш подписанных preview-ссылок с TTL.
// Ключ — путь файла в хранилище backend.
type PreviewService struct {
	cache   *expirable.LRU[string, string]
	fetcher PreviewURLFetcher
}

// NewPreviewService создаёт кэш preview-ссылок.
// maxSize — максимальное количество записей.
// ttl — время жизни ссылки в кэше (должно быть короче срока подписи backend).
func NewPreviewService(maxSize int, ttl time.Duration, fetcher PreviewURLFetcher) *PreviewService {
	cache := expirable.NewLRU[string, string](maxSize, nil, ttl)
	return &PreviewService{cache: cache, fetcher: fetcher}
}

// URL возвращает подписанную preview-ссылку для файла.
// При промахе кэша ссылка запрашивается у backend и кэшируется.
func (p *PreviewService) URL(ctx context.Context, filePath string) (string, error) {
	if url, ok := p.cache.Get(filePath); ok {
		previewCacheHitsTotal.Inc()
		return url, nil
	}
	previewCacheMissesTotal.Inc()

	url, err := p.fetcher(ctx, filePath)
	if err != nil {
		return "", err
	}

	p.cache.Add(filePath, url)
	return url, nil
}

// Invalidate удаляет ссылку из кэша (например, после 403 от хранилища).
func (p *PreviewService) Invalidate(filePath string) {
	p.cache.Remove(filePath)
}
