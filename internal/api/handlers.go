package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/smukkama/water-risk/internal/aggregation"
	"github.com/smukkama/water-risk/internal/database"
	"github.com/smukkama/water-risk/internal/generator"
	"github.com/smukkama/water-risk/pkg/config"
)

// siteResult is the per-site summary returned by hourly runs.
type siteResult struct {
	SiteID      string   `json:"siteId"`
	Bucket      string   `json:"bucket"`
	Source      string   `json:"source"`
	Bias        string   `json:"bias,omitempty"`
	DailyCases  int      `json:"dailyCases"`
	CasesSource string   `json:"casesSource"`
	Score       int      `json:"score"`
	RawRisk     string   `json:"rawRisk"`
	Risk        string   `json:"risk"`
	Reasons     []string `json:"reason"`
}

func summarise(outcomes []aggregation.HourlyOutcome) []siteResult {
	out := make([]siteResult, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, siteResult{
			SiteID:      o.SiteID,
			Bucket:      o.Bucket,
			Source:      o.Source,
			Bias:        string(o.Bias),
			DailyCases:  o.Cases.Count,
			CasesSource: o.Cases.Source,
			Score:       o.Raw.Score,
			RawRisk:     string(o.Decision.Raw),
			Risk:        string(o.Decision.Adjusted),
			Reasons:     o.Raw.Reasons,
		})
	}
	return out
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.Store.Ping(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"ok":       true,
		"timezone": s.Calendar.Location().String(),
		"time":     database.FormatTimestamp(s.Calendar.Now()),
	})
}

func (s *Server) runHourly(c *fiber.Ctx) error {
	return s.hourly(c, nil)
}

func (s *Server) hourly(c *fiber.Ctx, biases map[string]generator.Bias) error {
	outcomes, err := s.Hourly.RunWithOutcomes(c.UserContext(), biases)
	resp := fiber.Map{"ok": err == nil, "results": summarise(outcomes)}
	if biases != nil {
		applied := make(map[string]string, len(biases))
		for id, b := range biases {
			applied[id] = string(b)
		}
		resp["applied"] = applied
	}
	if err != nil {
		resp["error"] = err.Error()
		return c.Status(statusFor(err)).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *Server) runDailyPost(c *fiber.Ctx) error {
	var body struct {
		Date string `json:"date"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	return s.daily(c, body.Date)
}

func (s *Server) runDailyGet(c *fiber.Ctx) error {
	return s.daily(c, c.Query("date"))
}

func (s *Server) daily(c *fiber.Ctx, date string) error {
	if date == "" {
		date = s.Calendar.Today()
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", date))
	}
	if err := s.Daily.Run(c.UserContext(), date); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"ok": false, "date": date, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "date": date})
}

func statusFor(err error) int {
	if errors.Is(err, aggregation.ErrNoStore) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func (s *Server) seedPost(c *fiber.Ctx) error {
	var body struct {
		Biases map[string]string `json:"biases"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	biases, err := s.parseBiases(body.Biases)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return s.hourly(c, biases)
}

// seedGet accepts ?bias=site:red,site2:yellow
func (s *Server) seedGet(c *fiber.Ctx) error {
	raw := map[string]string{}
	for _, pair := range strings.Split(c.Query("bias"), ",") {
		id, colour, ok := strings.Cut(pair, ":")
		id, colour = strings.TrimSpace(id), strings.TrimSpace(colour)
		if !ok || id == "" || colour == "" {
			continue
		}
		raw[id] = colour
	}
	biases, err := s.parseBiases(raw)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return s.hourly(c, biases)
}

func (s *Server) parseBiases(raw map[string]string) (map[string]generator.Bias, error) {
	biases := make(map[string]generator.Bias, len(raw))
	for id, colour := range raw {
		if _, ok := s.site(id); !ok {
			return nil, fmt.Errorf("unknown site %q", id)
		}
		b, ok := generator.ParseBias(colour)
		if !ok {
			return nil, fmt.Errorf("site %q: bias must be green, yellow or red", id)
		}
		biases[id] = b
	}
	return biases, nil
}

func (s *Server) site(id string) (config.Site, bool) {
	for _, site := range s.Sites {
		if site.ID == id {
			return site, true
		}
	}
	return config.Site{}, false
}

func (s *Server) requireSite(c *fiber.Ctx) (config.Site, error) {
	id := c.Query("vid")
	if id == "" {
		return config.Site{}, fiber.NewError(fiber.StatusBadRequest, "vid required")
	}
	site, ok := s.site(id)
	if !ok {
		return config.Site{}, fiber.NewError(fiber.StatusNotFound, "site not found")
	}
	return site, nil
}

func (s *Server) inspect(c *fiber.Ctx) error {
	site, err := s.requireSite(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	today := s.Calendar.Today()

	resp := fiber.Map{
		"ok":     true,
		"today":  today,
		"site":   site,
		"result": s.Resolver.Resolve(ctx, site, today),
	}

	var status database.StatusRecord
	if found, err := s.read(c, s.Paths.Status(site.ID), &status); err != nil {
		return err
	} else if found {
		resp["status"] = status
	}

	var sample database.FieldSample
	if found, err := s.read(c, s.Paths.FieldSample(today, site.ID), &sample); err != nil {
		return err
	} else if found {
		resp["fieldSample"] = sample
	}

	if s.Tracker != nil {
		last, err := s.Tracker.LastState(ctx, site.ID)
		if err != nil {
			s.Logger.Warn("last published state unavailable", zap.String("site_id", site.ID), zap.Error(err))
		} else if last != nil {
			resp["lastPublished"] = last
		}
	}
	return c.JSON(resp)
}

func (s *Server) read(c *fiber.Ctx, path string, v any) (bool, error) {
	doc, err := s.Store.Get(c.UserContext(), path)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, doc.Decode(v)
}

func (s *Server) setCases(c *fiber.Ctx) error {
	site, err := s.requireSite(c)
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(c.Query("count", "0"))
	if err != nil || count < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "count must be a non-negative integer")
	}

	today := s.Calendar.Today()
	if err := s.Store.Set(c.UserContext(), s.Paths.CaseCounter(today, site.ID), map[string]any{
		"count":     count,
		"updatedAt": database.FormatTimestamp(s.Calendar.Now()),
	}); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "vid": site.ID, "today": today, "count": count})
}

// reading holds the optional sensor values of a debug request.
type reading struct {
	PH        *float64
	Turbidity *float64
	EColi     *bool
}

func parseReading(c *fiber.Ctx) (reading, error) {
	var r reading
	for key, dst := range map[string]**float64{"ph": &r.PH, "turbidity": &r.Turbidity} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return r, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s must be a non-negative number", key))
		}
		*dst = &v
	}
	if raw := c.Query("ecoli"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return r, fiber.NewError(fiber.StatusBadRequest, "ecoli must be true or false")
		}
		r.EColi = &v
	}
	return r, nil
}

func (s *Server) setSample(c *fiber.Ctx) error {
	site, err := s.requireSite(c)
	if err != nil {
		return err
	}
	r, err := parseReading(c)
	if err != nil {
		return err
	}
	sample := database.FieldSample{
		PH:        r.PH,
		Turbidity: r.Turbidity,
		EColi:     r.EColi,
		UpdatedAt: database.FormatTimestamp(s.Calendar.Now()),
	}
	if !sample.Usable() {
		return fiber.NewError(fiber.StatusBadRequest, "at least one of ph, turbidity or ecoli is required")
	}

	today := s.Calendar.Today()
	data, err := database.Encode(sample)
	if err != nil {
		return err
	}
	if err := s.Store.Set(c.UserContext(), s.Paths.FieldSample(today, site.ID), data); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "vid": site.ID, "today": today, "sample": sample})
}

// setManual replaces the current hour's record with a manual reading, which
// later hourly runs keep.
func (s *Server) setManual(c *fiber.Ctx) error {
	site, err := s.requireSite(c)
	if err != nil {
		return err
	}
	r, err := parseReading(c)
	if err != nil {
		return err
	}

	now := s.Calendar.Now()
	stamp := database.FormatTimestamp(now)
	rec := database.HourlyRecord{Timestamp: stamp, Source: database.SourceManual, CreatedAt: stamp}
	if r.PH != nil {
		rec.PH = *r.PH
	}
	if r.Turbidity != nil {
		rec.Turbidity = *r.Turbidity
	}
	rec.EColi = r.EColi != nil && *r.EColi

	path := s.Paths.HourlyRecord(site.ID, database.HourBucket(now))
	data, err := database.Encode(rec)
	if err != nil {
		return err
	}
	// Set merges, so every field is written and one call replaces whatever
	// an hourly run left in the bucket.
	data["daily_cases"] = nil
	if err := s.Store.Set(c.UserContext(), path, data); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "vid": site.ID, "bucket": database.HourBucket(now), "record": rec})
}
