// Package metrics implements the REST handler for hourly remediation rollups.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/pdvd-remediation/internal/store"
	"github.com/ortelius/pdvd-remediation/model"
	"github.com/ortelius/pdvd-remediation/restapi/modules/respond"
)

const maxWindow = 31 * 24 * time.Hour

// ListHourly handles GET /api/v1/metrics/hourly?from=&to=. Both bounds are
// RFC3339; the default window is the last 24 hours.
func ListHourly(st store.MetricsStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		to := time.Now().UTC()
		if s := c.Query("to"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return respond.BadRequest(c, "invalid to: "+err.Error())
			}
			to = t.UTC()
		}
		from := to.Add(-24 * time.Hour)
		if s := c.Query("from"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return respond.BadRequest(c, "invalid from: "+err.Error())
			}
			from = t.UTC()
		}
		if !from.Before(to) {
			return respond.BadRequest(c, "from must be before to")
		}
		if to.Sub(from) > maxWindow {
			return respond.BadRequest(c, "window must not exceed 31 days")
		}

		buckets, err := st.ListMetricsBuckets(c.UserContext(), from, to)
		if err != nil {
			return respond.Error(c, err)
		}
		if buckets == nil {
			buckets = []*model.MetricsBucket{}
		}
		return c.JSON(fiber.Map{
			"success": true,
			"from":    from,
			"to":      to,
			"buckets": buckets,
		})
	}
}
