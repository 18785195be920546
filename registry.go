package thi

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Pharmacy registry CSV columns, positional with a header row.
const (
	registryColName       = 0
	registryColAddress    = 1
	registryColPostalCode = 2
	// column 3 unused
	registryColProvince   = 4
	registryColExternalID = 5
	registryColumnCount   = 6
)

// PharmacyRecord is one row of the pharmacy registry. ExternalID is the
// opaque key the booking site uses for the pharmacy; it also keys the
// location in the inventory API.
type PharmacyRecord struct {
	Name       string
	Address    string
	PostalCode string
	Province   string
	ExternalID string
}

// SkipEligible reports whether the record should be passed over entirely.
// A missing postal code marks a row the upstream list maintainers have not
// finished filling in.
func (r PharmacyRecord) SkipEligible() bool {
	return len(r.PostalCode) == 0
}

// LoadRegistry reads the pharmacy registry once at startup. The result is
// passed explicitly to Run; there is no ambient registry state. Malformed
// rows (too few columns) are logged and dropped, they never abort the load.
func LoadRegistry(path string) ([]PharmacyRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRegistry: %v", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 //row length validated below

	records := make([]PharmacyRecord, 0)

	for line := 0; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			Log.Warnf("LoadRegistry: skipping unreadable row %d: %v", line, err)
			continue
		}

		if line == 0 {
			//header row
			continue
		}

		if len(row) < registryColumnCount {
			Log.Warnf("LoadRegistry: skipping short row %d: expected %d columns, got %d", line, registryColumnCount, len(row))
			continue
		}

		records = append(records, PharmacyRecord{
			Name:       row[registryColName],
			Address:    row[registryColAddress],
			PostalCode: row[registryColPostalCode],
			Province:   row[registryColProvince],
			ExternalID: row[registryColExternalID],
		})
	}

	Log.Infof("Loaded %d pharmacies from %s", len(records), path)

	return records, nil
}
