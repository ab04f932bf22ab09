package config

import (
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
)

// timeoutEnvPrefix prefixes the mapstructure keys of Timeouts to form the
// variable names, e.g. VMAAS_TIMEOUT_VM_READY.
const timeoutEnvPrefix = "VMAAS_"

// Timeouts bounds the waits of a run. Every field can be overridden from
// the environment.
type Timeouts struct {
	// VMReady bounds the wait for the controller's SSH port.
	VMReady time.Duration `mapstructure:"TIMEOUT_VM_READY"`
	// CloudInit bounds the wait for cloud-init on the controller.
	CloudInit     time.Duration `mapstructure:"TIMEOUT_CLOUD_INIT"`
	ImageImport   time.Duration `mapstructure:"TIMEOUT_IMAGE_IMPORT"`
	Commissioning time.Duration `mapstructure:"TIMEOUT_COMMISSIONING"`
	// Deploy bounds the whole run. Zero means unbounded.
	Deploy time.Duration `mapstructure:"TIMEOUT_DEPLOY"`

	RetryMaxAttempts  int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialDelay time.Duration `mapstructure:"RETRY_INITIAL_DELAY"`

	// Ignored names the variables whose values did not parse. Their
	// fields keep the default.
	Ignored []string `mapstructure:"-"`
}

var timeoutKeys = []string{
	"TIMEOUT_VM_READY",
	"TIMEOUT_CLOUD_INIT",
	"TIMEOUT_IMAGE_IMPORT",
	"TIMEOUT_COMMISSIONING",
	"TIMEOUT_DEPLOY",
	"RETRY_MAX_ATTEMPTS",
	"RETRY_INITIAL_DELAY",
}

// DefaultTimeouts returns the values used when nothing is overridden.
func DefaultTimeouts() *Timeouts {
	return &Timeouts{
		VMReady:           10 * time.Minute,
		CloudInit:         30 * time.Minute,
		ImageImport:       2 * time.Hour,
		Commissioning:     30 * time.Minute,
		RetryMaxAttempts:  5,
		RetryInitialDelay: time.Second,
	}
}

// LoadTimeouts applies VMAAS_TIMEOUT_* and VMAAS_RETRY_* overrides to the
// defaults. Values are Go durations ("45m", "2h30m"); the attempt count
// is an integer. A bad value leaves its default in place and is listed in
// Ignored.
func LoadTimeouts() *Timeouts {
	t := DefaultTimeouts()
	for _, key := range timeoutKeys {
		name := timeoutEnvPrefix + key
		val := os.Getenv(name)
		if val == "" {
			continue
		}
		if err := decodeTimeout(t, key, val); err != nil {
			t.Ignored = append(t.Ignored, name)
		}
	}
	return t
}

// decodeTimeout sets the one field tagged key. Each key is decoded on its
// own so a bad value cannot spoil the others.
func decodeTimeout(t *Timeouts, key, val string) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           t,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]string{key: val})
}
