package handler

import (
	"net/http"
	"runtime"
	"time"

	"payndeliver-cart/internal/cache"
	"payndeliver-cart/internal/repository"
	"payndeliver-cart/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	buffer    *cache.RedisCartBuffer
	cartRepo  repository.CartRepository
	dbType    string // sqlite, postgres, mongodb or mysql
	startTime time.Time
}

// NewAdminHandler creates a new admin handler. buffer may be nil.
func NewAdminHandler(buffer *cache.RedisCartBuffer, cartRepo repository.CartRepository, dbType string) *AdminHandler {
	return &AdminHandler{
		buffer:    buffer,
		cartRepo:  cartRepo,
		dbType:    dbType,
		startTime: time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = h.dbType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.buffer != nil {
		count, err := h.buffer.Count(ctx)
		if err == nil {
			stats["redis_buffer"] = map[string]interface{}{
				"pending_carts": count,
				"status":        "connected",
			}
		} else {
			stats["redis_buffer"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["redis_buffer"] = map[string]interface{}{
			"status": "not_configured",
		}
	}

	if h.cartRepo != nil {
		dbStats, err := h.cartRepo.GetStats(ctx)
		if err == nil {
			dbStats["status"] = "connected"
			stats["database"] = dbStats
		} else {
			stats["database"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["database"] = map[string]interface{}{
			"status": "not_configured",
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
