package ops_test

import (
	"fmt"
	"gridjobs/internal/infra/ops"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func hourlyFile(temp func(hour int) string) []byte {
	var b strings.Builder
	for x := range 8760 {
		rec := []byte(strings.Repeat(" ", 243) + "\n")
		copy(rec[59:64], fmt.Sprintf("%5s", temp(x)))
		b.Write(rec)
	}
	return []byte(b.String())
}

func TestParseHourlyTemperatures(t *testing.T) {
	t.Parallel()
	data := hourlyFile(func(h int) string { return fmt.Sprintf("%.1f", float64(h%40)-10) })
	temps, err := ops.ParseHourlyTemperatures(data)
	require.NoError(t, err)
	require.Len(t, temps, 8760)
	require.Equal(t, -10.0, temps[0])
	require.Equal(t, 29.0, temps[39])

	_, err = ops.ParseHourlyTemperatures(data[:1000])
	require.ErrorContains(t, err, "too short")

	bad := hourlyFile(func(h int) string {
		if h == 5 {
			return "x"
		}
		return "1.0"
	})
	_, err = ops.ParseHourlyTemperatures(bad)
	require.ErrorContains(t, err, "hour 5")
}

func TestWeatherOperation(t *testing.T) {
	t.Parallel()
	data := hourlyFile(func(h int) string {
		switch h {
		case 1:
			return "12"
		case 2:
			return "-3.5"
		}
		return "-9999"
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2017/CRNH0203-2017-KY_Versailles_3_NNW.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	op := ops.WeatherOperation(srv.URL+"/", 5*time.Second)
	require.Equal(t, ops.WeatherOpName, op.Name)
	require.Equal(t, "text/csv", op.ContentType)

	_, ws := osWorkspace(t, map[string]string{"year": "2017", "station": "KY_Versailles_3_NNW"})
	require.NoError(t, op.Work(t.Context(), ws))
	csv := readArtifact(t, ws, "weather.csv")
	lines := strings.Split(strings.TrimSuffix(csv, "\n"), "\n")
	require.Len(t, lines, 8760)
	require.Equal(t, []string{"-9999.0", "12.0", "-3.5"}, lines[:3])

	_, ws = osWorkspace(t, map[string]string{"year": "2017", "station": "nowhere"})
	err := op.Work(t.Context(), ws)
	require.ErrorContains(t, err, "404")
}
