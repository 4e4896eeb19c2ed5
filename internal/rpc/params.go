package rpc

// StartAuthParams is start_authentication's optional target user; an
// empty User runs a global best-match session across every enrolled
// gallery.
type StartAuthParams struct {
	User string `json:"user" validate:"omitempty"`
}

// StartEnrollParams is start_enrollment's target user and glasses flag.
type StartEnrollParams struct {
	UserName     string `json:"user_name" validate:"required"`
	WearsGlasses bool   `json:"wears_glasses"`
}

// UpdateConfigParams carries a partial patch of published dotted config
// keys (e.g. "security.golden_threshold"); unrecognized keys are
// ignored rather than rejected, so a client sending forward-compatible
// keys does not break the call.
type UpdateConfigParams struct {
	Config map[string]any `json:"config" validate:"required"`
}

// IntrusionParams names a quarantine entry by its on-disk filename, as
// returned by get_intrusions.
type IntrusionParams struct {
	Filename string `json:"filename" validate:"required"`
}

// AuthenticatePAMParams is authenticate_pam's optional target user.
type AuthenticatePAMParams struct {
	User string `json:"user"`
}
