package request

// SetSetting holds the new value of a system setting.
type SetSetting struct {
	Value string `json:"value" validate:"max=4096"`
}
