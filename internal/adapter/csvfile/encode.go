package csvfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/couchcryptid/incident-risk/internal/domain"
)

const timestampLayout = "2006-01-02 15:04:05"

// EncodeIncidents writes incidents in the layout Decode reads. Rows marked
// NeedsGeocoding are written with blank coordinates.
func EncodeIncidents(w io.Writer, incidents []domain.Incident) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, requiredColumns...), optionalColumns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, inc := range incidents {
		lat, lon := ftoa(inc.Lat), ftoa(inc.Lon)
		if inc.NeedsGeocoding {
			lat, lon = "", ""
		}
		cluster := ""
		if inc.Cluster != domain.NoCluster {
			cluster = strconv.Itoa(inc.Cluster)
		}
		record := []string{
			inc.OpenedAt.Format(timestampLayout), lat, lon,
			inc.IncidentType, inc.Brigade, inc.Street, inc.Station, inc.IndoorOutdoor, inc.Note,
			ftoa(inc.ResponseMinutes),
			cluster, inc.Address, inc.ID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write incident %s: %w", inc.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
