package rvg

// MatchVaccine decides which concrete vaccine code to try for one record.
//
// Grouped preferences and concrete codes take the first qualifying entry in
// provider order. ANY takes the last one: later entries overwrite earlier
// matches. Both tie-breaks decide which organization gets reserved, so they
// stay distinct.
func MatchVaccine(catalog *VaccineCatalog, preference VaccineType, breakdown []VaccineQuantity) (string, bool) {
	switch {
	case preference.IsGroup():
		for _, entry := range breakdown {
			if entry.Quantity <= 0 {
				continue
			}
			if code, ok := catalog.CrossReference(entry.Type); ok && preference.InGroup(code) {
				return code, true
			}
		}
		return "", false

	case preference.IsAny():
		found := ""
		for _, entry := range breakdown {
			if entry.Quantity <= 0 {
				continue
			}
			code, ok := catalog.CrossReference(entry.Type)
			if !ok {
				Log.Debugf("No catalog code for provider vaccine type '%s', skipping", entry.Type)
				continue
			}
			found = code
		}
		return found, len(found) > 0

	default:
		for _, entry := range breakdown {
			if entry.Quantity <= 0 {
				continue
			}
			if code, ok := catalog.CrossReference(entry.Type); ok && code == preference.Code {
				return code, true
			}
		}
		return "", false
	}
}
