package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// StepID names one of the seven fixed form steps.
type StepID string

const (
	StepInformation   StepID = "information"
	StepWalls         StepID = "walls"
	StepSectors       StepID = "sectors"
	StepProfiles      StepID = "profiles"
	StepDrainage      StepID = "drainage"
	StepMaps          StepID = "maps"
	StepApplicability StepID = "applicability-checklist"
)

// StepOrder is the fixed presentation order of the steps.
var StepOrder = []StepID{
	StepInformation,
	StepWalls,
	StepSectors,
	StepProfiles,
	StepDrainage,
	StepMaps,
	StepApplicability,
}

// StepDefinition describes one catalog entry.
type StepDefinition struct {
	ID          StepID
	Title       string
	Description string
	InitialData func() any
}

var stepCatalog = map[StepID]StepDefinition{
	StepInformation: {
		ID:          StepInformation,
		Title:       "Information",
		Description: "General project information",
		InitialData: func() any { return InformationData{} },
	},
	StepWalls: {
		ID:          StepWalls,
		Title:       "Walls",
		Description: "Containment wall inventory",
		InitialData: func() any { return WallsData{Walls: []Wall{}} },
	},
	StepSectors: {
		ID:          StepSectors,
		Title:       "Sectors",
		Description: "Sector definitions",
		InitialData: func() any { return SectorsData{Sectors: []Sector{}} },
	},
	StepProfiles: {
		ID:          StepProfiles,
		Title:       "Profiles",
		Description: "Terrain profiles",
		InitialData: func() any { return ProfilesData{Profiles: []Profile{}} },
	},
	StepDrainage: {
		ID:          StepDrainage,
		Title:       "Drainage",
		Description: "Drainage system",
		InitialData: func() any { return DrainageData{Drains: []Drain{}} },
	},
	StepMaps: {
		ID:          StepMaps,
		Title:       "Maps",
		Description: "Plans and maps",
		InitialData: func() any { return MapsData{Documents: []MapDocument{}} },
	},
	StepApplicability: {
		ID:          StepApplicability,
		Title:       "Applicability Checklist",
		Description: "Regulatory applicability checklist",
		InitialData: func() any { return ApplicabilityData{Items: []ApplicabilityItem{}} },
	},
}

// StepDef returns the catalog entry for id.
func StepDef(id StepID) (StepDefinition, bool) {
	def, ok := stepCatalog[id]
	return def, ok
}

// KnownStep reports whether id is one of the seven fixed step ids.
func KnownStep(id StepID) bool {
	_, ok := stepCatalog[id]
	return ok
}

// NewForm builds a draft form with all seven steps pre-populated with their
// step-specific empty payloads.
func NewForm(clientID, creator, now string) *Form {
	steps := make(map[StepID]*Step, len(StepOrder))
	for _, id := range StepOrder {
		def := stepCatalog[id]
		data, _ := json.Marshal(def.InitialData())
		steps[id] = &Step{
			ID:            id,
			Title:         def.Title,
			Description:   def.Description,
			Status:        StepIncomplete,
			Data:          data,
			Comments:      []Comment{},
			LastUpdatedBy: creator,
			LastUpdatedAt: now,
		}
	}
	return &Form{
		ClientID:      clientID,
		Status:        StatusDraft,
		Steps:         steps,
		CreatedBy:     creator,
		CreatedAt:     now,
		LastUpdatedBy: creator,
		LastUpdatedAt: now,
	}
}

// Typed step payloads. Unknown fields are rejected on input.

type InformationData struct {
	Name      string `json:"name,omitempty"`
	Code      string `json:"code,omitempty"`
	Client    string `json:"client,omitempty"`
	Location  string `json:"location,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	Manager   string `json:"manager,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type Wall struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Height   float64 `json:"height"`
	Length   float64 `json:"length"`
	Material string  `json:"material"`
	Notes    string  `json:"notes,omitempty"`
}

type WallsData struct {
	Walls []Wall `json:"walls"`
}

type Sector struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Area        float64 `json:"area"`
	Description string  `json:"description,omitempty"`
}

type SectorsData struct {
	Sectors []Sector `json:"sectors"`
}

type Profile struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Length float64 `json:"length"`
	Notes  string  `json:"notes,omitempty"`
}

type ProfilesData struct {
	Profiles []Profile `json:"profiles"`
}

type Drain struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Location string `json:"location"`
	Capacity string `json:"capacity"`
	Notes    string `json:"notes,omitempty"`
}

type DrainageData struct {
	Drains []Drain `json:"drains"`
}

type MapDocument struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	UploadedAt string `json:"uploaded_at,omitempty"`
	Version    string `json:"version,omitempty"`
}

type MapsData struct {
	Documents []MapDocument `json:"documents"`
}

type ApplicabilityItem struct {
	ID            string `json:"id,omitempty"`
	Standard      string `json:"standard"`
	Applicable    bool   `json:"applicable"`
	Justification string `json:"justification,omitempty"`
}

type ApplicabilityData struct {
	Items        []ApplicabilityItem `json:"items"`
	GeneralNotes string              `json:"general_notes,omitempty"`
}

// ValidationError carries field-level detail for malformed step data.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid step data"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("invalid step data: %s: %s", keys[0], e.Fields[keys[0]])
}

type fieldErrors map[string]string

func (fe fieldErrors) add(field, reason string) {
	fe[field] = reason
}

func (fe fieldErrors) err() error {
	if len(fe) == 0 {
		return nil
	}
	return &ValidationError{Fields: fe}
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidateStepData decodes and validates a step payload against the step's
// schema and returns the normalized JSON encoding. Unknown fields fail
// validation; there are no passthrough fields.
func ValidateStepData(id StepID, raw json.RawMessage) (json.RawMessage, error) {
	if !KnownStep(id) {
		return nil, fmt.Errorf("unknown step %s", id)
	}
	fe := fieldErrors{}
	var payload any
	switch id {
	case StepInformation:
		var d InformationData
		if err := strictDecode(raw, &d); err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data": err.Error()}}
		}
		payload = d
	case StepWalls:
		var d WallsData
		if err := strictDecode(raw, &d); err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data": err.Error()}}
		}
		if d.Walls == nil {
			d.Walls = []Wall{}
		}
		for i, w := range d.Walls {
			if w.Name == "" {
				fe.add(fmt.Sprintf("walls[%d].name", i), "required")
			}
			if w.Height <= 0 {
				fe.add(fmt.Sprintf("walls[%d].height", i), "must be positive")
			}
			if w.Length <= 0 {
				fe.add(fmt.Sprintf("walls[%d].length", i), "must be positive")
			}
			if w.Material == "" {
				fe.add(fmt.Sprintf("walls[%d].material", i), "required")
			}
		}
		payload = d
	case StepSectors:
		var d SectorsData
		if err := strictDecode(raw, &d); err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data": err.Error()}}
		}
		if d.Sectors == nil {
			d.Sectors = []Sector{}
		}
		for i, s := range d.Sectors {
			if s.Name == "" {
				fe.add(fmt.Sprintf("sectors[%d].name", i), "required")
			}
			if s.Area <= 0 {
				fe.add(fmt.Sprintf("sectors[%d].area", i), "must be positive")
			}
		}
		payload = d
	case StepProfiles:
		var d ProfilesData
		if err := strictDecode(raw, &d); err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data": err.Error()}}
		}
		if d.Profiles == nil {
			d.Profiles = []Profile{}
		}
		for i, p := range d.Profiles {
			if p.Name == "" {
				fe.add(fmt.Sprintf("profiles[%d].name", i), "required")
			}
			if p.Type == "" {
				fe.add(fmt.Sprintf("profiles[%d].type", i), "required")
			}
			if p.Length <= 0 {
				fe.add(fmt.Sprintf("profiles[%d].length", i), "must be positive")
			}
		}
		payload = d
	case StepDrainage:
		var d DrainageData
		if err := strictDecode(raw, &d); err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data": err.Error()}}
		}
		if d.Drains == nil {
			d.Drains = []Drain{}
		}
		for i, dr := range d.Drains {
			if dr.Type == "" {
				fe.add(fmt.Sprintf("drains[%d].type", i), "required")
			}
			if dr.Location == "" {
				fe.add(fmt.Sprintf("drains[%d].location", i), "required")
			}
			if dr.Capacity == "" {
				fe.add(fmt.Sprintf("drains[%d].capacity", i), "required")
			}
		}
		payload = d
	case StepMaps:
		var d MapsData
		if err := strictDecode(raw, &d); err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data": err.Error()}}
		}
		if d.Documents == nil {
			d.Documents = []MapDocument{}
		}
		for i := range d.Documents {
			doc := &d.Documents[i]
			if doc.Name == "" {
				fe.add(fmt.Sprintf("documents[%d].name", i), "required")
			}
			if doc.Type == "" {
				fe.add(fmt.Sprintf("documents[%d].type", i), "required")
			}
			if doc.UploadedAt != "" && !dateRe.MatchString(doc.UploadedAt) {
				fe.add(fmt.Sprintf("documents[%d].uploaded_at", i), "must be YYYY-MM-DD")
			}
			if doc.Version == "" {
				doc.Version = "1.0"
			}
		}
		payload = d
	case StepApplicability:
		var d ApplicabilityData
		if err := strictDecode(raw, &d); err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data": err.Error()}}
		}
		if d.Items == nil {
			d.Items = []ApplicabilityItem{}
		}
		for i, item := range d.Items {
			if item.Standard == "" {
				fe.add(fmt.Sprintf("items[%d].standard", i), "required")
			}
		}
		payload = d
	}
	if err := fe.err(); err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

// MergeStepData overlays the top-level keys of patch onto base and validates
// the result through the step's schema.
func MergeStepData(id StepID, base, patch json.RawMessage) (json.RawMessage, error) {
	merged := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, err
		}
	}
	var overlay map[string]json.RawMessage
	if len(patch) > 0 {
		if err := json.Unmarshal(patch, &overlay); err != nil {
			return nil, &ValidationError{Fields: map[string]string{"data": "must be a JSON object"}}
		}
	}
	for k, v := range overlay {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return ValidateStepData(id, raw)
}

func strictDecode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
