package types

// Meta is the outcome envelope carried by every service-level response.
// Per-element problems land in Errors/Duplicates/ValidationErrors/Missing
// with Success still true; Success false means the operation itself
// failed and ErrorDescription says why. Duplicates are never errors.
type Meta struct {
	Success          bool     `json:"success"`
	ErrorDescription string   `json:"error_description,omitempty"`
	Errors           []string `json:"errors"`
	NInserted        int      `json:"n_inserted"`
	NFound           int      `json:"n_found"`
	Duplicates       []string `json:"duplicates"`
	ValidationErrors []string `json:"validation_errors"`
	Missing          []string `json:"missing"`
}

// NewMeta returns an envelope with the list fields initialized so they
// marshal as empty arrays rather than null.
func NewMeta() Meta {
	return Meta{
		Errors:           []string{},
		Duplicates:       []string{},
		ValidationErrors: []string{},
		Missing:          []string{},
	}
}

// AddError records a per-element error. It does not flip Success; fatal
// failures go through Fail.
func (m *Meta) AddError(msg string) {
	m.Errors = append(m.Errors, msg)
}

// Fail marks the whole operation failed with a description.
func (m *Meta) Fail(description string) {
	m.Success = false
	m.ErrorDescription = description
}
