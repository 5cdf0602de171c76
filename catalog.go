package rvg

import (
	"fmt"
	"strings"
)

const VaccineCodeAny = "ANY"
const VaccineCodeMRNA = "MRNA"

const ForceCodePrefix = "FORCE:"
const ForcedVaccineName = "(forced)"
const UnusedVaccineName = "(unused)"

// VaccineType is a catalog entry. Group is non-empty only for grouped
// preferences ("either of these types").
type VaccineType struct {
	Name  string   `yaml:"name"`
	Code  string   `yaml:"code"`
	Group []string `yaml:"group,omitempty"`
}

func (v VaccineType) IsAny() bool {
	return v.Code == VaccineCodeAny
}

func (v VaccineType) IsGroup() bool {
	return len(v.Group) > 0
}

func (v VaccineType) InGroup(code string) bool {
	for _, member := range v.Group {
		if member == code {
			return true
		}
	}
	return false
}

func (v VaccineType) String() string {
	return fmt.Sprintf("%s (%s)", v.Name, v.Code)
}

var builtinVaccines = []VaccineType{
	{Name: "Any", Code: VaccineCodeAny},
	{Name: "Pfizer or Moderna", Code: VaccineCodeMRNA, Group: []string{"VEN00013", "VEN00014"}},
	{Name: "Pfizer", Code: "VEN00013"},
	{Name: "Moderna", Code: "VEN00014"},
	{Name: "AZ", Code: "VEN00015"},
	{Name: "Janssen", Code: "VEN00016"},
	{Name: UnusedVaccineName, Code: "VEN00017"},
	{Name: UnusedVaccineName, Code: "VEN00018"},
	{Name: UnusedVaccineName, Code: "VEN00019"},
	{Name: UnusedVaccineName, Code: "VEN00020"},
}

// place search reports vaccine names, region query reports codes
var builtinCrossReference = map[string]string{
	"화이자": "VEN00013",
	"모더나": "VEN00014",
	"AZ":  "VEN00015",
	"얀센":  "VEN00016",
}

// VaccineCatalog is the code/name table used by the matcher and the providers.
// It is not safe for concurrent mutation; registration happens before polling.
type VaccineCatalog struct {
	entries  []VaccineType
	byCode   map[string]int
	crossRef map[string]string
}

// NewVaccineCatalog returns a catalog seeded from the built-in table.
// Registrations only affect the returned instance.
func NewVaccineCatalog() *VaccineCatalog {
	c := &VaccineCatalog{
		entries:  make([]VaccineType, 0, len(builtinVaccines)),
		byCode:   make(map[string]int),
		crossRef: make(map[string]string),
	}

	for _, v := range builtinVaccines {
		c.add(copyVaccineType(v))
	}
	for name, code := range builtinCrossReference {
		c.crossRef[name] = code
	}

	return c
}

func copyVaccineType(v VaccineType) VaccineType {
	if v.Group != nil {
		v.Group = append([]string(nil), v.Group...)
	}
	return v
}

func (c *VaccineCatalog) add(v VaccineType) {
	c.byCode[v.Code] = len(c.entries)
	c.entries = append(c.entries, v)
}

func (c *VaccineCatalog) Resolve(code string) (VaccineType, bool) {
	idx, ok := c.byCode[code]
	if !ok {
		return VaccineType{}, false
	}
	return c.entries[idx], true
}

// CrossReference maps a provider-reported type (a code or a display name) onto
// a concrete catalog code. Pseudo-types never cross-reference.
func (c *VaccineCatalog) CrossReference(providerCode string) (string, bool) {
	providerCode = strings.TrimSpace(providerCode)
	if v, ok := c.Resolve(providerCode); ok {
		if v.IsAny() || v.IsGroup() {
			return "", false
		}
		return v.Code, true
	}

	code, ok := c.crossRef[providerCode]
	return code, ok
}

// Register adds a type not present in the built-in table.
func (c *VaccineCatalog) Register(v VaccineType) error {
	v.Code = strings.TrimSpace(v.Code)
	if len(v.Code) == 0 {
		return fmt.Errorf("Cannot register vaccine with empty code")
	}
	if _, exists := c.byCode[v.Code]; exists {
		return fmt.Errorf("Vaccine code already registered: %s", v.Code)
	}
	for _, member := range v.Group {
		if _, ok := c.CrossReference(member); !ok {
			return fmt.Errorf("Vaccine group %s references unknown code: %s", v.Code, member)
		}
	}
	if len(v.Name) == 0 {
		v.Name = ForcedVaccineName
	}

	c.add(copyVaccineType(v))
	Log.Warnf("Registered vaccine code %s (%s); make sure it is a working code", v.Code, v.Name)
	return nil
}

// RegisterAlias teaches the catalog a provider's name for an existing code.
func (c *VaccineCatalog) RegisterAlias(providerName string, code string) error {
	if _, ok := c.CrossReference(code); !ok {
		return fmt.Errorf("Cannot alias %s to unknown code %s", providerName, code)
	}
	c.crossRef[providerName] = code
	return nil
}

// List returns the selectable entries in catalog order.
func (c *VaccineCatalog) List() []VaccineType {
	visible := make([]VaccineType, 0, len(c.entries))
	for _, v := range c.entries {
		if v.Name == UnusedVaccineName {
			continue
		}
		visible = append(visible, v)
	}
	return visible
}

// ParsePreference turns the configured vaccine_type into a catalog entry.
// "FORCE:<code>" registers the code first.
func (c *VaccineCatalog) ParsePreference(input string) (VaccineType, error) {
	input = strings.TrimSpace(input)

	if strings.HasPrefix(input, ForceCodePrefix) {
		forceCode := strings.TrimSpace(strings.TrimPrefix(input, ForceCodePrefix))
		if v, ok := c.Resolve(forceCode); ok {
			return v, nil
		}
		if err := c.Register(VaccineType{Name: ForcedVaccineName, Code: forceCode}); err != nil {
			return VaccineType{}, err
		}
		v, _ := c.Resolve(forceCode)
		return v, nil
	}

	v, ok := c.Resolve(input)
	if !ok {
		return VaccineType{}, fmt.Errorf("Unknown vaccine code: '%s' (use %s<code> to force a new one)", input, ForceCodePrefix)
	}
	return v, nil
}
