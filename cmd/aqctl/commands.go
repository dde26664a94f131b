package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/airpulse/airpulse/internal/airquality"
	"github.com/airpulse/airpulse/internal/api/models"
	"github.com/airpulse/airpulse/internal/app"
	"github.com/airpulse/airpulse/internal/database"
	"github.com/airpulse/airpulse/internal/history"
	"github.com/airpulse/airpulse/internal/provider/resilience"
)

var errBadConcentration = errors.New("concentrations must look like pm25=42.5")

func coordinateFlags(cmd *cobra.Command, c *airquality.Coordinate) {
	cmd.Flags().Float64Var(&c.Lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&c.Lon, "lon", 0, "longitude in degrees")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
}

func (c *cli) currentCmd() *cobra.Command {
	var (
		point  airquality.Coordinate
		radius float64
	)

	cmd := &cobra.Command{
		Use:     "current",
		Short:   "Show the current air quality at a point",
		Args:    cobra.NoArgs,
		PreRunE: c.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("radius") {
				radius = c.cfg.Cache.RadiusKm
			}
			reading, err := c.pipeline.Service.GetCurrent(cmd.Context(), point, radius)
			if err != nil {
				return err
			}
			if c.output == outputJSON {
				return c.writeJSON(models.ReadingFrom(reading))
			}

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Location\t%.4f, %.4f\n", reading.Coordinate.Lat, reading.Coordinate.Lon)
			fmt.Fprintf(tw, "AQI\t%d (%s)\n", reading.Index, reading.Category)
			fmt.Fprintf(tw, "Dominant\t%s\n", reading.DominantPollutant)
			fmt.Fprintf(tw, "Source\t%s (%s)\n", reading.SourceID, reading.Quality)
			fmt.Fprintf(tw, "Observed\t%s\n", reading.ObservedAt.Format(time.RFC3339))
			for _, p := range airquality.AllPollutants {
				if v, ok := reading.Pollutants[p]; ok {
					fmt.Fprintf(tw, "  %s\t%.2f\n", p, v)
				}
			}
			return tw.Flush()
		},
	}
	coordinateFlags(cmd, &point)
	cmd.Flags().Float64Var(&radius, "radius", 0, "cache lookup radius in km (default from config)")
	return cmd
}

func (c *cli) forecastCmd() *cobra.Command {
	var (
		point airquality.Coordinate
		hours int
	)

	cmd := &cobra.Command{
		Use:     "forecast",
		Short:   "Show the hourly forecast at a point",
		Args:    cobra.NoArgs,
		PreRunE: c.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			forecast, err := c.pipeline.Service.GetForecast(cmd.Context(), point, hours)
			if err != nil {
				return err
			}
			if c.output == outputJSON {
				return c.writeJSON(models.ForecastFrom(forecast))
			}

			s := forecast.Summary
			fmt.Fprintf(c.out, "Source %s (%s), %d hours\n", forecast.SourceID, forecast.Quality, len(forecast.Points))
			fmt.Fprintf(c.out, "AQI mean %.1f, min %d, max %d, trend %s, mostly %s\n\n",
				s.MeanIndex, s.MinIndex, s.MaxIndex, s.Trend, s.DominantCategory)

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOUR\tTIME\tAQI\tCATEGORY\tCONFIDENCE")
			for _, p := range forecast.Points {
				fmt.Fprintf(tw, "+%d\t%s\t%d\t%s\t%.2f\n",
					p.HoursAhead, p.Time.Format(time.RFC3339), p.Index, p.Category, p.Confidence)
			}
			return tw.Flush()
		},
	}
	coordinateFlags(cmd, &point)
	cmd.Flags().IntVar(&hours, "hours", models.DefaultForecastHours, "forecast horizon in hours (1-96)")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		point  airquality.Coordinate
		radius float64
		window time.Duration
	)

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Show persisted readings near a point",
		Args:    cobra.NoArgs,
		PreRunE: c.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			readings, err := c.pipeline.Service.GetHistory(cmd.Context(), point, radius, window)
			if err != nil {
				return err
			}
			if c.output == outputJSON {
				return c.writeJSON(models.HistoryFrom(point, radius, window, readings))
			}

			agg := history.Summarize(readings)
			if agg.Count == 0 {
				fmt.Fprintf(c.out, "No readings within %.1f km in the last %s\n", radius, window)
				return nil
			}
			fmt.Fprintf(c.out, "%d readings, AQI mean %.1f, min %d, max %d, %.0f%% synthetic\n\n",
				agg.Count, agg.MeanIndex, agg.MinIndex, agg.MaxIndex, agg.SyntheticShare*100)

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OBSERVED\tAQI\tCATEGORY\tSOURCE\tQUALITY")
			for _, r := range readings {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					r.ObservedAt.Format(time.RFC3339), r.Index, r.Category, r.SourceID, r.Quality)
			}
			return tw.Flush()
		},
	}
	coordinateFlags(cmd, &point)
	cmd.Flags().Float64Var(&radius, "radius", 2, "search radius in km")
	cmd.Flags().DurationVar(&window, "window", models.DefaultHistoryWindow, "how far back to look")
	return cmd
}

func (c *cli) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers in priority order",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := c.load(); err != nil {
				return err
			}
			registry := resilience.NewRegistry()
			app.Providers(c.cfg, registry, c.logger())

			type row struct {
				Name     string `json:"name"`
				Priority int    `json:"priority,omitempty"`
				Enabled  bool   `json:"enabled"`
				Circuit  string `json:"circuit,omitempty"`
			}
			rows := make([]row, 0, len(c.cfg.Providers.Order))
			for _, name := range c.cfg.Providers.Order {
				r := row{Name: name}
				if h := registry.GetHealth(name); h != nil {
					r.Enabled = true
					r.Priority = h.Priority + 1
					r.Circuit = h.CircuitState.String()
				}
				rows = append(rows, r)
			}

			if c.output == outputJSON {
				return c.writeJSON(rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(c.out, "No providers configured, serving synthetic data only")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRIORITY\tPROVIDER\tSTATUS\tCIRCUIT")
			for _, r := range rows {
				status, priority := "skipped (no credentials)", "-"
				if r.Enabled {
					status, priority = "enabled", strconv.Itoa(r.Priority)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", priority, r.Name, status, r.Circuit)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables [pollutant...]",
		Short: "Print the national breakpoint tables",
		RunE: func(_ *cobra.Command, args []string) error {
			selected := airquality.AllPollutants
			if len(args) > 0 {
				selected = nil
				for _, arg := range args {
					p, err := parsePollutant(arg)
					if err != nil {
						return err
					}
					selected = append(selected, p)
				}
			}

			if c.output == outputJSON {
				out := make(map[string]airquality.BreakpointTable, len(selected))
				for _, p := range selected {
					out[string(p)] = airquality.Tables[p]
				}
				return c.writeJSON(out)
			}

			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POLLUTANT\tCONCENTRATION\tAQI\tCATEGORY")
			for _, p := range selected {
				unit := "µg/m³"
				if p == airquality.PollutantCO {
					unit = "mg/m³"
				}
				for _, b := range airquality.Tables[p] {
					fmt.Fprintf(tw, "%s\t%g-%g %s\t%g-%g\t%s\n",
						p, b.ConcLow, b.ConcHigh, unit, b.IndexLow, b.IndexHigh, airquality.CategoryFor(int(b.IndexHigh)))
				}
			}
			return tw.Flush()
		},
	}
}

func (c *cli) indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "index pollutant=value...",
		Short:   "Compute the AQI for a set of concentrations",
		Example: "  aqctl index pm25=42 pm10=88 no2=35",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			conc := make(airquality.Concentrations, len(args))
			for _, arg := range args {
				name, raw, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("%w: %q", errBadConcentration, arg)
				}
				p, err := parsePollutant(name)
				if err != nil {
					return err
				}
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("%w: %q", errBadConcentration, arg)
				}
				conc[p] = v
			}

			index, dominant, err := airquality.OverallIndex(conc)
			if err != nil {
				return err
			}
			category := airquality.CategoryFor(index)

			if c.output == outputJSON {
				return c.writeJSON(map[string]any{
					"aqi":               index,
					"category":          category,
					"dominantPollutant": dominant,
				})
			}
			fmt.Fprintf(c.out, "AQI %d (%s), dominant %s\n", index, category, dominant)
			return nil
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the history schema to the configured PostgreSQL database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbConfig, err := database.ConfigFromEnv()
			if err != nil {
				return err
			}
			pool, err := database.Connect(cmd.Context(), dbConfig, c.logger())
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := history.Migrate(cmd.Context(), pool)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Fprintf(c.out, "applied %s\n", name)
			}
			return nil
		},
	}
}

// parsePollutant accepts names like pm25, PM2.5 or no2.
func parsePollutant(name string) (airquality.Pollutant, error) {
	p := airquality.Pollutant(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(name)), ".", ""))
	if !slices.Contains(airquality.AllPollutants, p) {
		return "", fmt.Errorf("unknown pollutant %q", name)
	}
	return p, nil
}
