package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// countingFetcher — источник ссылок со счётчиком обращений.
func countingFetcher(counter *atomic.Int32, url string, err error) PreviewURLFetcher {
	return func(_ context.Context, _ string) (string, error) {
		counter.Add(1)
		return url, err
	}
}

// TestPreviewService_CachesURL проверяет, что повторные обращения
// не перезапрашивают ссылку у backend.
func TestPreviewService_CachesURL(t *testing.T) {
	var fetches atomic.Int32
	svc := NewPreviewService(100, 5*time.Minute,
		countingFetcher(&fetches, "https://storage.example.com/signed/doc-1", nil))

	for i := 0; i < 3; i++ {
		url, err := svc.URL(context.Background(), "vessels/v1/doc-1.pdf")
		if err != nil {
			t.Fatalf("URL #%d: %v", i, err)
		}
		if url != "https://storage.example.com/signed/doc-1" {
			t.Errorf("url = %q", url)
		}
	}

	if got := fetches.Load(); got != 1 {
		t.Errorf("обращений к backend = %d, ожидалось 1 (кэш)", got)
	}
}

// TestPreviewService_FetchError проверяет, что ошибка backend
// не кэшируется.
func TestPreviewService_FetchError(t *testing.T) {
	var fetches atomic.Int32
	svc := NewPreviewService(100, 5*time.Minute,
		countingFetcher(&fetches, "", errors.New("backend недоступен")))

	for i := 0; i < 2; i++ {
		if _, err := svc.URL(context.Background(), "vessels/v1/doc-1.pdf"); err == nil {
			t.Fatal("ожидалась ошибка backend")
		}
	}

	if got := fetches.Load(); got != 2 {
		t.Errorf("обращений к backend = %d, ожидалось 2 (ошибки не кэшируются)", got)
	}
}

// TestPreviewService_TTLExpiration проверяет перезапрос после
// истечения TTL.
func TestPreviewService_TTLExpiration(t *testing.T) {
	var fetches atomic.Int32
	svc := NewPreviewService(100, 50*time.Millisecond,
		countingFetcher(&fetches, "https://storage.example.com/signed/doc-ttl", nil))

	if _, err := svc.URL(context.Background(), "doc-ttl"); err != nil {
		t.Fatalf("URL: %v", err)
	}

	// Ждём истечения TTL
	time.Sleep(100 * time.Millisecond)

	if _, err := svc.URL(context.Background(), "doc-ttl"); err != nil {
		t.Fatalf("URL после TTL: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		t.Errorf("обращений к backend = %d, ожидалось 2 (истёкший TTL)", got)
	}
}

// TestPreviewService_Invalidate проверяет принудительную инвалидацию.
func TestPreviewService_Invalidate(t *testing.T) {
	var fetches atomic.Int32
	svc := NewPreviewService(100, 5*time.Minute,
		countingFetcher(&fetches, "https://storage.example.com/signed/doc-inv", nil))

	if _, err := svc.URL(context.Background(), "doc-inv"); err != nil {
		t.Fatalf("URL: %v", err)
	}
	svc.Invalidate("doc-inv")
	if _, err := svc.URL(context.Background(), "doc-inv"); err != nil {
		t.Fatalf("URL после Invalidate: %v", err)
	}

	if got := fetches.Load(); got != 2 {
		t.Errorf("обращений к backend = %d, ожидалось 2", got)
	}
}
