package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// loadStats counts generated requests by outcome
type loadStats struct {
	ok     atomic.Int64
	failed atomic.Int64
}

// generateLoad sends requests to the shop at rps until ctx is done
func generateLoad(ctx context.Context, baseURL string, rps float64, stats *loadStats, logger *zap.Logger) {
	client := resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second)
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		go func() {
			req := client.R().SetContext(ctx)
			var (
				resp *resty.Response
				err  error
			)
			if rand.Intn(3) == 0 {
				resp, err = req.Post("/checkout")
			} else {
				resp, err = req.Get("/orders/" + strconv.Itoa(rand.Intn(1000)))
			}
			switch {
			case err != nil:
				if !errors.Is(err, context.Canceled) {
					logger.Debug("request failed", zap.Error(err))
				}
				stats.failed.Add(1)
			case resp.StatusCode() >= http.StatusBadRequest:
				stats.failed.Add(1)
			default:
				stats.ok.Add(1)
			}
		}()
	}
}
