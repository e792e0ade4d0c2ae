package walker

// ErrInvalidConfig matches any *ConfigError via errors.Is.
var ErrInvalidConfig = &ConfigError{}

// ConfigError reports a walker configuration that cannot be run.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "walker: invalid config"
	}
	return "walker: invalid config: " + e.Field + " " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}
