package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gridscan/internal/entsoe"
	"gridscan/internal/models"
)

// loadDataTypeBySource is the closed mapping from (processType, documentType)
// to the internal classification for load documents.
var loadDataTypeBySource = map[string]models.EnergyDataType{
	entsoe.ProcessDayAhead + "+" + entsoe.DocTypeSystemTotalLoad:    models.DataTypeDayAhead,
	entsoe.ProcessRealised + "+" + entsoe.DocTypeSystemTotalLoad:    models.DataTypeActual,
	entsoe.ProcessWeekAhead + "+" + entsoe.DocTypeSystemTotalLoad:   models.DataTypeWeekAhead,
	entsoe.ProcessMonthAhead + "+" + entsoe.DocTypeSystemTotalLoad:  models.DataTypeMonthAhead,
	entsoe.ProcessYearAhead + "+" + entsoe.DocTypeSystemTotalLoad:   models.DataTypeYearAhead,
	entsoe.ProcessYearAhead + "+" + entsoe.DocTypeLoadForecastMargin: models.DataTypeForecastMargin,
}

func availableLoadMappings() []string {
	out := make([]string, 0, len(loadDataTypeBySource))
	for k := range loadDataTypeBySource {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mapLoadDataType(processType, documentType string) (models.EnergyDataType, error) {
	code := processType + "+" + documentType
	dt, ok := loadDataTypeBySource[code]
	if !ok {
		return "", &MappingError{SourceCode: code, AvailableMappings: availableLoadMappings()}
	}
	return dt, nil
}

// mapPriceDataType accepts only day-ahead price publications.
func mapPriceDataType(processType, documentType string) (models.EnergyDataType, error) {
	if documentType == entsoe.DocTypePriceDocument && processType == entsoe.ProcessDayAhead {
		return models.DataTypeDayAhead, nil
	}
	code := processType + "+" + documentType
	return "", &MappingError{
		SourceCode:        code,
		AvailableMappings: []string{entsoe.ProcessDayAhead + "+" + entsoe.DocTypePriceDocument},
	}
}

// areaByEIC resolves the bidding-zone EIC identifiers the platform mirrors.
var areaByEIC = map[string]string{
	"10Y1001A1001A83F": "DE",
	"10Y1001A1001A82H": "DE-LU",
	"10YFR-RTE------C": "FR",
	"10YNL----------L": "NL",
	"10YBE----------2": "BE",
	"10YAT-APG------L": "AT",
}

var trailingCountryRe = regexp.MustCompile(`\(([A-Z]{2})\)\s*$`)

// extractAreaCode derives a short area code from a domain reference.
// Resolution order: known EIC lookup, a trailing "(XX)" country hint in the
// description, then the first 10 characters of the raw value.
func extractAreaCode(mrid, description string) (string, error) {
	code := strings.TrimSpace(mrid)
	if area, ok := areaByEIC[code]; ok {
		return area, nil
	}
	if m := trailingCountryRe.FindStringSubmatch(strings.TrimSpace(description)); m != nil {
		return m[1], nil
	}
	compact := strings.Join(strings.Fields(code), "")
	if compact == "" {
		return "", &TransformError{SourceValue: mrid, Err: fmt.Errorf("empty domain reference")}
	}
	if len(compact) > 10 {
		compact = compact[:10]
	}
	return compact, nil
}
