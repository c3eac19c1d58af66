package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/tracing"
)

var errOutOfStock = errors.New("inventory: out of stock")

// shop is a traced demo application
type shop struct {
	tracer *tracing.Tracer
	client *resty.Client
	// latency scales every simulated delay
	latency time.Duration
	// failRate is the probability of a failed inventory check
	failRate float64
}

func newShop(tracer *tracing.Tracer, baseURL string, latency time.Duration, failRate float64) *shop {
	return &shop{
		tracer:   tracer,
		client:   resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		latency:  latency,
		failRate: failRate,
	}
}

func (s *shop) routes(r gin.IRouter) {
	r.GET("/orders/:id", s.getOrder)
	r.POST("/checkout", s.checkout)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
}

// work simulates n units of latency inside a span
func (s *shop) work(ctx context.Context, class, method string, n float64, err error) error {
	span, _ := s.tracer.StartSpan(ctx, class, method)
	time.Sleep(time.Duration(n * (0.5 + rand.Float64()) * float64(s.latency)))
	span.Finish(err)
	return err
}

func (s *shop) getOrder(c *gin.Context) {
	ctx := c.Request.Context()
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be numeric"})
		return
	}

	span, ctx := s.tracer.StartSpan(ctx, "shop.Orders", "load")
	span.SetTag("ORDER", orderID)
	_ = s.work(ctx, "shop.db.Conn", "query", 2, nil)
	_ = s.work(ctx, "shop.db.Conn", "query", 1, nil)
	span.Finish(nil)

	var stockErr error
	if rand.Float64() < s.failRate {
		stockErr = errOutOfStock
	}
	if err := s.work(ctx, "shop.Inventory", "check", 1, stockErr); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": orderID, "status": "ready"})
}

func (s *shop) checkout(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := rand.Intn(1000)

	// the order lookup is a separate request continuing this trace
	headers := map[string]string{}
	tracing.InjectTraceContext(ctx, headers)
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get("/orders/" + strconv.Itoa(orderID))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if resp.IsError() {
		c.JSON(resp.StatusCode(), gin.H{"error": "order unavailable"})
		return
	}

	_ = s.work(ctx, "shop.Payments", "charge", 3, nil)
	c.JSON(http.StatusOK, gin.H{"order": orderID, "status": "paid"})
}
