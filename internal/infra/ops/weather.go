package ops

import (
	"context"
	"encoding/csv"
	"fmt"
	"gridjobs/internal/domain"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const (
	WeatherOpName      = "weatherNoaaHourly"
	DefaultNOAABaseURL = "https://www1.ncdc.noaa.gov/pub/data/uscrn/products/hourly02"

	hoursPerYear = 8760
	// USCRN hourly02 files are fixed width; the hourly air temperature sits
	// in columns [59, 64) of every 244 byte record.
	recordWidth = 244
	tempStart   = 59
	tempEnd     = 64

	maxHourlyFile = 64 << 20
)

type weatherFetcher struct {
	baseURL string
	client  *http.Client
}

// WeatherOperation fetches a year of hourly temperatures for a USCRN station
// and writes them as a one column CSV.
func WeatherOperation(baseURL string, timeout time.Duration) domain.Operation {
	if baseURL == "" {
		baseURL = DefaultNOAABaseURL
	}
	client := cleanhttp.DefaultClient()
	client.Timeout = timeout
	f := weatherFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}

	return domain.Operation{
		Name: WeatherOpName,
		Fields: []domain.Field{
			{Name: "year", Kind: domain.KindInt},
			{Name: "station", Kind: domain.KindString},
		},
		Artifact:    "weather.csv",
		ContentType: "text/csv",
		Work:        f.Work,
	}
}

func (f weatherFetcher) Work(ctx context.Context, ws domain.Workspace) error {
	year := strings.TrimSpace(ws.Field("year"))
	station := strings.TrimSpace(ws.Field("station"))
	u := fmt.Sprintf("%s/%s/CRNH0203-%s-%s.txt", f.baseURL, url.PathEscape(year), url.PathEscape(year), url.PathEscape(station))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching hourly weather: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: %s", u, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHourlyFile))
	if err != nil {
		return fmt.Errorf("reading hourly weather: %w", err)
	}

	temps, err := ParseHourlyTemperatures(data)
	if err != nil {
		return err
	}

	w, err := ws.Create("weather.csv")
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	for _, t := range temps {
		if err := cw.Write([]string{formatTemperature(t)}); err != nil {
			_ = w.Close()
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// ParseHourlyTemperatures extracts the 8760 hourly temperatures of a USCRN
// hourly02 file.
func ParseHourlyTemperatures(data []byte) ([]float64, error) {
	need := (hoursPerYear-1)*recordWidth + tempEnd
	if len(data) < need {
		return nil, fmt.Errorf("hourly weather file too short: %d bytes, need %d", len(data), need)
	}
	temps := make([]float64, hoursPerYear)
	for x := range hoursPerYear {
		field := strings.TrimSpace(string(data[x*recordWidth+tempStart : x*recordWidth+tempEnd]))
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("hour %d: bad temperature %q", x, field)
		}
		temps[x] = v
	}
	return temps, nil
}

// formatTemperature keeps at least one decimal digit: 12 is written 12.0.
func formatTemperature(t float64) string {
	s := strconv.FormatFloat(t, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
