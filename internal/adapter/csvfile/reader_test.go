package csvfile

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/incident-risk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "opened_at,lat,lon,incident_type,brigade,street,station,indoor_outdoor,note,response_minutes"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, body string) ([]domain.Incident, error) {
	t.Helper()
	return Decode(context.Background(), strings.NewReader(body))
}

func TestDecode_Success(t *testing.T) {
	body := "\ufeff" + header + ",cluster,address,id\n" +
		"2024-03-01 14:05:00,31.2301,121.5302,电气火灾,浦东支队,张江镇,张江站,室内,电动车 充电 起火,12.5,3,张江路100号,F-1\n" +
		"3/2/2024 9:30,31.24,121.51,生活垃圾,浦东支队,花木街道,花木站,室外,垃圾 起火,,,,\n"

	incidents, err := decode(t, body)
	require.NoError(t, err)
	require.Len(t, incidents, 2)

	first := incidents[0]
	assert.Equal(t, "F-1", first.ID)
	assert.Equal(t, time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC), first.OpenedAt)
	assert.InDelta(t, 31.2301, first.Lat, 1e-9)
	assert.InDelta(t, 121.5302, first.Lon, 1e-9)
	assert.Equal(t, "电气火灾", first.IncidentType)
	assert.Equal(t, "室内", first.IndoorOutdoor)
	assert.Equal(t, "电动车 充电 起火", first.Note)
	assert.InDelta(t, 12.5, first.ResponseMinutes, 1e-9)
	assert.Equal(t, 3, first.Cluster)
	assert.Equal(t, "张江路100号", first.Address)
	assert.False(t, first.NeedsGeocoding)

	second := incidents[1]
	assert.Equal(t, "2", second.ID, "row number when id is blank")
	assert.Equal(t, time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC), second.OpenedAt)
	assert.Zero(t, second.ResponseMinutes)
	assert.Equal(t, domain.NoCluster, second.Cluster)
}

func TestDecode_TimestampLayouts(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-03-01T14:05:00Z", time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)},
		{"2024-03-01 14:05:07", time.Date(2024, 3, 1, 14, 5, 7, 0, time.UTC)},
		{"2024-03-01 14:05", time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)},
		{"12/31/2023 23:59", time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			incidents, err := decode(t, header+"\n"+tt.raw+",31.2,121.5,a,b,c,d,e,f,1\n")
			require.NoError(t, err)
			require.Len(t, incidents, 1)
			assert.True(t, tt.want.Equal(incidents[0].OpenedAt))
		})
	}
}

func TestDecode_NegativeResponseClamped(t *testing.T) {
	incidents, err := decode(t, header+"\n2024-03-01 10:00,31.2,121.5,a,b,c,d,e,f,-4\n")
	require.NoError(t, err)
	assert.Zero(t, incidents[0].ResponseMinutes)
}

func TestDecode_NonNumericResponseMinutesReadAsZero(t *testing.T) {
	for _, raw := range []string{"N/A", "soon", "--"} {
		t.Run(raw, func(t *testing.T) {
			incidents, err := decode(t, header+"\n2024-03-01 10:00,31.2,121.5,a,b,c,d,e,f,"+raw+"\n")
			require.NoError(t, err)
			require.Len(t, incidents, 1)
			assert.Zero(t, incidents[0].ResponseMinutes)
		})
	}
}

func TestDecode_InvalidClusterIgnored(t *testing.T) {
	incidents, err := decode(t, header+",cluster\n2024-03-01 10:00,31.2,121.5,a,b,c,d,e,f,1,east\n2024-03-01 11:00,31.2,121.5,a,b,c,d,e,f,1,2\n")
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, domain.NoCluster, incidents[0].Cluster)
	assert.Equal(t, 2, incidents[1].Cluster)
}

func TestReader_LoadLogsUnparsedResponseMinutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.csv")
	body := header + "\n2024-03-01 10:00,31.2,121.5,a,b,c,d,e,f,N/A\n2024-03-01 11:00,31.2,121.5,a,b,c,d,e,f,6\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	incidents, err := NewReader(path, logger).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Zero(t, incidents[0].ResponseMinutes)
	assert.InDelta(t, 6.0, incidents[1].ResponseMinutes, 1e-9)
	assert.Contains(t, logs.String(), "non-numeric response_minutes set to 0")
	assert.Contains(t, logs.String(), "rows=1")
}

func TestDecode_BlankCoordinatesWithAddressNeedGeocoding(t *testing.T) {
	incidents, err := decode(t, header+",address\n2024-03-01 10:00,,,a,b,c,d,e,f,1,世纪大道100号\n")
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.True(t, incidents[0].NeedsGeocoding)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing header", "", "missing header row"},
		{"missing column", "opened_at,lat,lon\n", "incident_type"},
		{"bad timestamp", header + "\nyesterday,31.2,121.5,a,b,c,d,e,f,1\n", "row 1 column opened_at"},
		{"bad lat", header + "\n2024-03-01 10:00,north,121.5,a,b,c,d,e,f,1\n", "row 1 column lat"},
		{"blank coords no address", header + "\n2024-03-01 10:00,,,a,b,c,d,e,f,1\n", "row 1 column lat"},
		{"bad lon second row", header + "\n2024-03-01 10:00,31.2,121.5,a,b,c,d,e,f,1\n2024-03-01 11:00,31.2,x,a,b,c,d,e,f,1\n", "row 2 column lon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(t, tt.body)
			require.Error(t, err)
			require.ErrorIs(t, err, domain.ErrMalformedInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReader_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+"\n2024-03-01 10:00,31.2,121.5,a,b,c,d,e,f,1\n"), 0o600))

	incidents, err := NewReader(path, discardLogger()).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, incidents, 1)
}

func TestReader_LoadMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "absent.csv"), discardLogger()).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEncodeIncidents_DecodesBack(t *testing.T) {
	in := []domain.Incident{
		{
			ID: "F1", OpenedAt: time.Date(2024, 3, 1, 14, 5, 7, 0, time.UTC), Lat: 31.2301, Lon: 121.5302,
			Address: "张江路100号", IncidentType: "电气火灾", Brigade: "浦东支队", Street: "张江镇",
			Station: "张江站", IndoorOutdoor: "室内", Note: "电动车, 充电", ResponseMinutes: 7.25, Cluster: domain.NoCluster,
		},
		{
			ID: "F2", OpenedAt: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC), Address: "世纪大道1号",
			IncidentType: "生活垃圾", Cluster: 4, NeedsGeocoding: true,
		},
	}

	var buf strings.Builder
	require.NoError(t, EncodeIncidents(&buf, in))

	out, err := decode(t, buf.String())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
